// Package middleware provides the session, authorization, and resource
// resolution layers that wrap the catalog HTTP handlers.
package middleware

import (
	"net/http"

	"github.com/catalogkit/catalogd/pkg/contextkeys"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
)

// SessionLoader attaches the request's session to the context, creating
// an anonymous one for first-time visitors. Every route runs behind it;
// downstream code can assume GetSession never returns nil.
type SessionLoader struct {
	sessions *session.Manager
	logger   *observability.Logger
}

// NewSessionLoader creates session loading middleware.
func NewSessionLoader(sessions *session.Manager, logger *observability.Logger) *SessionLoader {
	return &SessionLoader{sessions: sessions, logger: logger}
}

// Handler wraps an HTTP handler with session loading.
func (m *SessionLoader) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.sessions.Load(w, r)
		if err != nil {
			m.logger.WithError(err).Error("failed to load session")
			httputil.WriteInternalError(w)
			return
		}
		ctx := contextkeys.WithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession extracts the session placed by SessionLoader. It returns
// nil only for handlers mounted outside the loader chain.
func GetSession(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(contextkeys.SessionKey).(*session.Session)
	return sess
}

// RequireAuth rejects unauthenticated requests with a 401. Mutating
// catalog routes sit behind it; read-only routes do not.
func RequireAuth(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return requireAuth(metrics, func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
	})
}

// RequireAuthRedirect sends unauthenticated requests back to the landing
// page with a 303. Used for the browser-form endpoints, matching what a
// visitor with a stale session expects.
func RequireAuthRedirect(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return requireAuth(metrics, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

func requireAuth(metrics *observability.Metrics, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSession(r)
			if sess == nil || !sess.Claim.Authenticated() {
				if metrics != nil {
					metrics.AuthFailuresTotal.WithLabelValues("unauthenticated").Inc()
				}
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
