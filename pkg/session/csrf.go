package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/catalogkit/catalogd/pkg/auth"
)

// stateBytes gives a 43-character base64 token, comfortably above the
// 32-character floor for unpredictability.
const stateBytes = 32

// IssueState mints a fresh single-use CSRF state token for the session,
// replacing any previously pending token, and persists it.
func (m *Manager) IssueState(ctx context.Context, sess *Session) (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	sess.CSRFState = token
	if err := m.Save(ctx, sess); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeState validates a presented token against the session's pending
// one. The store clears the pending token atomically whether validation
// succeeds or fails: it is single-use in every outcome, never valid for
// another session, and two concurrent presentations of the same token
// can pass at most once.
func (m *Manager) ConsumeState(ctx context.Context, sess *Session, presented string) error {
	matched, err := m.store.ConsumeState(ctx, sess.ID, presented)
	if err != nil {
		return err
	}
	sess.CSRFState = ""
	if !matched {
		return auth.ErrCSRFViolation
	}
	return nil
}
