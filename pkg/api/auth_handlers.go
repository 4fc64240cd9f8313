package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/middleware"
)

// invalidCredentialMessage is the fixed response for any failed local
// login. One message for both fields, so probing cannot split them.
const invalidCredentialMessage = "invalid credential, please try again"

// home handles GET / and reports the session's identity.
func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if !sess.Claim.Authenticated() {
		httputil.WriteSuccess(w, map[string]interface{}{
			"authenticated": false,
		})
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"authenticated": true,
		"name":          sess.Claim.DisplayName,
		"type":          sess.Claim.Type,
	})
}

// loginForm handles GET /login: it mints the state token the login form
// must echo back.
func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	state, err := s.sessions.IssueState(r.Context(), sess)
	if err != nil {
		s.logger.WithError(err).Error("failed to issue state token")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"state": state})
}

// login handles POST /login. CSRF validation happens in middleware; here
// only the credential pair is checked.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)

	claim, err := s.authenticator.AuthenticateLocal(r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuthFailuresTotal.WithLabelValues(auth.Reason(err)).Inc()
		}
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, invalidCredentialMessage)
		return
	}

	sess.Claim = claim
	if err := s.sessions.Save(r.Context(), sess); err != nil {
		s.logger.WithError(err).Error("failed to persist login")
		httputil.WriteInternalError(w)
		return
	}

	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(string(claim.Type)).Inc()
	}
	s.logger.WithField("user", claim.DisplayName).Info("local login")
	httputil.WriteSuccess(w, map[string]string{
		"message": "you are now logged in as " + claim.DisplayName,
	})
}

// logout handles GET /logout. A federated claim's token is revoked best
// effort before the session is destroyed.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)

	if sess.Claim.Federated() && s.federator != nil {
		s.federator.Revoke(r.Context(), sess.Claim.AccessToken)
	}

	if err := s.sessions.Destroy(r.Context(), w, sess); err != nil {
		s.logger.WithError(err).Error("failed to destroy session")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message": "you have been successfully logged out",
	})
}

// oauthConnect handles GET /oauth/connect: it mints the state token and
// returns the provider's authorization URL.
func (s *Server) oauthConnect(w http.ResponseWriter, r *http.Request) {
	if s.federator == nil {
		httputil.WriteNotFound(w, "no identity provider configured")
		return
	}
	sess := middleware.GetSession(r)
	state, err := s.sessions.IssueState(r.Context(), sess)
	if err != nil {
		s.logger.WithError(err).Error("failed to issue state token")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"state":             state,
		"authorization_url": s.federator.AuthCodeURL(state),
	})
}

// oauthCallback handles POST /oauth/callback?state=S with the raw
// authorization code as the request body. Every gate failure collapses
// to a 401 so the response does not reveal which check tripped.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	if s.federator == nil {
		httputil.WriteNotFound(w, "no identity provider configured")
		return
	}
	sess := middleware.GetSession(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "failed to read authorization code")
		return
	}
	code := strings.TrimSpace(string(body))
	state := r.URL.Query().Get("state")

	result, err := s.federator.Complete(r.Context(), sess, state, code)
	if err != nil {
		reason := auth.Reason(err)
		if s.metrics != nil {
			s.metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
		}
		s.logger.WithError(err).WithField("reason", reason).Warn("federated login rejected")
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "login failed")
		return
	}

	if result.AlreadyConnected {
		httputil.WriteSuccess(w, map[string]string{
			"message": "current user is already connected",
		})
		return
	}
	httputil.WriteSuccess(w, map[string]string{
		"message": "you are now logged in as " + result.DisplayName,
	})
}
