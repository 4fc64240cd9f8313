package sso

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
	"github.com/catalogkit/catalogd/pkg/store"
)

// fakeProvider is a scriptable identity provider. Each field controls
// one endpoint's response for the test that owns the instance.
type fakeProvider struct {
	server *httptest.Server

	tokenStatus   int
	idToken       string
	introspection map[string]interface{}
	userinfo      map[string]interface{}
	revoked       []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		tokenStatus: http.StatusOK,
		idToken:     fakeIDToken("subject-1"),
		introspection: map[string]interface{}{
			"sub": "subject-1",
			"aud": "client-1",
		},
		userinfo: map[string]interface{}{
			"name":    "Grace Hopper",
			"email":   "grace@example.com",
			"picture": "https://img.example.com/grace.png",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if p.tokenStatus != http.StatusOK {
			http.Error(w, `{"error":"invalid_grant"}`, p.tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     p.idToken,
		})
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.introspection)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token-1" {
			http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.userinfo)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		p.revoked = append(p.revoked, r.PostFormValue("token"))
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) config() ProviderConfig {
	return ProviderConfig{
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		RedirectURL:   "http://localhost/oauth/callback",
		AuthURL:       p.server.URL + "/auth",
		TokenURL:      p.server.URL + "/token",
		IntrospectURL: p.server.URL + "/introspect",
		UserinfoURL:   p.server.URL + "/userinfo",
		RevokeURL:     p.server.URL + "/revoke",
	}
}

// fakeIDToken builds an unsigned JWT carrying only a subject claim.
func fakeIDToken(subject string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":%q}`, subject)))
	return header + "." + payload + ".sig"
}

type federatorFixture struct {
	federator *Federator
	sessions  *session.Manager
	store     *store.Store
	provider  *fakeProvider
}

func newFederatorFixture(t *testing.T) *federatorFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(context.Background(), db, store.DriverSQLite))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	st, err := store.New(db, store.DriverSQLite, nil, logger, nil)
	require.NoError(t, err)

	sessions := session.NewManager(session.NewSQLStore(db, store.DriverSQLite), 0, false)
	provider := newFakeProvider(t)

	f, err := NewFederator(context.Background(), provider.config(), sessions, st, logger, nil)
	require.NoError(t, err)

	return &federatorFixture{federator: f, sessions: sessions, store: st, provider: provider}
}

// newSession creates a persisted session with a pending state token.
func (fx *federatorFixture) newSession(t *testing.T) (*session.Session, string) {
	t.Helper()
	sess, err := fx.sessions.Load(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	state, err := fx.sessions.IssueState(context.Background(), sess)
	require.NoError(t, err)
	return sess, state
}

func TestNewFederatorValidation(t *testing.T) {
	provider := newFakeProvider(t)

	tests := []struct {
		name   string
		mutate func(*ProviderConfig)
	}{
		{"missing client id", func(c *ProviderConfig) { c.ClientID = "" }},
		{"missing client secret", func(c *ProviderConfig) { c.ClientSecret = "" }},
		{"missing redirect url", func(c *ProviderConfig) { c.RedirectURL = "" }},
		{"missing token url", func(c *ProviderConfig) { c.TokenURL = "" }},
		{"missing userinfo url", func(c *ProviderConfig) { c.UserinfoURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := provider.config()
			tt.mutate(&cfg)
			_, err := NewFederator(context.Background(), cfg, nil, nil, observability.NewLogger(observability.ErrorLevel, io.Discard), nil)
			assert.Error(t, err)
		})
	}
}

func TestAuthCodeURL(t *testing.T) {
	fx := newFederatorFixture(t)
	u := fx.federator.AuthCodeURL("state-abc")
	assert.Contains(t, u, fx.provider.server.URL+"/auth")
	assert.Contains(t, u, "state=state-abc")
	assert.Contains(t, u, "client_id=client-1")
}

func TestCompleteSuccessCreatesUser(t *testing.T) {
	fx := newFederatorFixture(t)
	sess, state := fx.newSession(t)

	res, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", res.DisplayName)
	assert.Equal(t, "grace@example.com", res.Email)
	assert.False(t, res.AlreadyConnected)

	assert.True(t, sess.Claim.Federated())
	assert.Equal(t, "subject-1", sess.Claim.Subject)
	assert.Equal(t, "access-token-1", sess.Claim.AccessToken)

	// The mapped user record is reused on the next login with the same
	// email.
	user, err := fx.store.LookupOrCreateUser(context.Background(), "Grace Hopper", "grace@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, sess.Claim.UserID, user.ID)
}

func TestCompleteRejectsBadState(t *testing.T) {
	fx := newFederatorFixture(t)
	sess, _ := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, "forged-state", "code-1")
	assert.ErrorIs(t, err, auth.ErrCSRFViolation)

	// The mismatch burned the real pending token too.
	_, err = fx.federator.Complete(context.Background(), sess, "anything", "code-1")
	assert.ErrorIs(t, err, auth.ErrCSRFViolation)
}

func TestCompleteStateIsSingleUse(t *testing.T) {
	fx := newFederatorFixture(t)
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	require.NoError(t, err)

	_, err = fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.ErrorIs(t, err, auth.ErrCSRFViolation)
}

func TestCompleteCodeExchangeFailure(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.tokenStatus = http.StatusBadRequest
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "bad-code")
	assert.ErrorIs(t, err, auth.ErrCodeExchangeFailed)
	assert.False(t, sess.Claim.Federated())
}

func TestCompleteIntrospectionError(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.introspection = map[string]interface{}{"error": "invalid_token"}
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestCompleteSubjectMismatch(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.introspection["sub"] = "someone-else"
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.ErrorIs(t, err, auth.ErrSubjectMismatch)
}

func TestCompleteAudienceMismatch(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.introspection["aud"] = "another-app"
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.ErrorIs(t, err, auth.ErrAudienceMismatch)
}

func TestCompleteMissingIDToken(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.idToken = ""
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestCompleteLegacyIntrospectionShape(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.introspection = map[string]interface{}{
		"user_id":  "subject-1",
		"audience": "client-1",
	}
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.NoError(t, err)
}

func TestCompleteAlreadyConnected(t *testing.T) {
	fx := newFederatorFixture(t)
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	require.NoError(t, err)
	claimBefore := sess.Claim

	state, err = fx.sessions.IssueState(context.Background(), sess)
	require.NoError(t, err)

	res, err := fx.federator.Complete(context.Background(), sess, state, "code-2")
	require.NoError(t, err)
	assert.True(t, res.AlreadyConnected)
	assert.Equal(t, "Grace Hopper", res.DisplayName)
	assert.Equal(t, claimBefore, sess.Claim)
}

func TestCompleteMissingEmail(t *testing.T) {
	fx := newFederatorFixture(t)
	delete(fx.provider.userinfo, "email")
	sess, state := fx.newSession(t)

	_, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestCompleteDefaultsNameToEmail(t *testing.T) {
	fx := newFederatorFixture(t)
	delete(fx.provider.userinfo, "name")
	sess, state := fx.newSession(t)

	res, err := fx.federator.Complete(context.Background(), sess, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", res.DisplayName)
}

func TestRevoke(t *testing.T) {
	fx := newFederatorFixture(t)

	fx.federator.Revoke(context.Background(), "access-token-1")
	assert.Equal(t, []string{"access-token-1"}, fx.provider.revoked)

	// No token means no provider call.
	fx.federator.Revoke(context.Background(), "")
	assert.Len(t, fx.provider.revoked, 1)
}

func TestRevokeSwallowsProviderFailure(t *testing.T) {
	fx := newFederatorFixture(t)
	fx.provider.server.Close()

	// Must not panic or return an error.
	fx.federator.Revoke(context.Background(), "access-token-1")
}
