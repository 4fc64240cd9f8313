package middleware

import (
	"errors"
	"net/http"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
)

// ValidateCSRF consumes the form's state token against the session's
// pending one. The token is single-use either way: a mismatch burns it
// too, so a replayed form cannot succeed on retry.
func ValidateCSRF(sessions *session.Manager, logger *observability.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSession(r)
			if sess == nil {
				httputil.WriteInternalError(w)
				return
			}
			err := sessions.ConsumeState(r.Context(), sess, r.FormValue("state"))
			if err != nil {
				if errors.Is(err, auth.ErrCSRFViolation) {
					if metrics != nil {
						metrics.AuthFailuresTotal.WithLabelValues(auth.Reason(err)).Inc()
					}
					httputil.WriteErrorMessage(w, http.StatusForbidden, "invalid state parameter")
					return
				}
				logger.WithError(err).Error("failed to consume state token")
				httputil.WriteInternalError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
