// Package session manages per-browser-agent sessions: the authenticated
// claim, the single-use CSRF state token, and the backing store (SQL by
// default, Redis for multi-replica deployments).
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/catalogkit/catalogd/pkg/auth"
)

// CookieName is the browser cookie carrying the session id.
const CookieName = "catalog_session"

// DefaultTTL bounds a session's lifetime absent an explicit config value.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by stores for an unknown or expired session id.
var ErrNotFound = errors.New("session not found")

// Session is the ephemeral per-agent state. CSRFState holds the pending
// single-use token, empty when none is outstanding.
type Session struct {
	ID        string     `json:"id"`
	Claim     auth.Claim `json:"claim"`
	CSRFState string     `json:"csrf_state,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Authenticated reports whether the session carries a claim.
func (s *Session) Authenticated() bool {
	return s.Claim.Authenticated()
}

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// ConsumeState atomically clears the session's pending state token
	// and reports whether presented matched it. The token is burned on
	// mismatch too, so two concurrent presentations of the same token
	// can match at most once.
	ConsumeState(ctx context.Context, id, presented string) (bool, error)

	// ActiveCount reports how many unexpired sessions the store holds.
	ActiveCount(ctx context.Context, now time.Time) (int64, error)
}

// Manager binds the store to the request/response cookie protocol.
type Manager struct {
	store  Store
	ttl    time.Duration
	secure bool
}

// NewManager creates a session manager. secure controls the cookie's
// Secure attribute and should be true behind TLS.
func NewManager(store Store, ttl time.Duration, secure bool) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, secure: secure}
}

// Load returns the request's session, creating and persisting a fresh one
// when the cookie is absent, unknown, or expired.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		sess, err := m.store.Get(r.Context(), cookie.Value)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Put(r.Context(), sess); err != nil {
		return nil, err
	}
	m.setCookie(w, sess.ID, int(m.ttl.Seconds()))
	return sess, nil
}

// Save persists session mutations.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	return m.store.Put(ctx, sess)
}

// Destroy deletes the session and clears the browser cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	err := m.store.Delete(ctx, sess.ID)
	m.setCookie(w, "", -1)
	return err
}

// PurgeExpired removes expired sessions from the store.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.PurgeExpired(ctx, time.Now().UTC())
}

// ActiveCount reports how many live sessions the store currently holds.
func (m *Manager) ActiveCount(ctx context.Context) (int64, error) {
	return m.store.ActiveCount(ctx, time.Now().UTC())
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}
