package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/store"
)

// SQLStore keeps sessions in the catalog database. The sessions table is
// created by the store migration.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates a session store over the shared database handle.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) q(query string) string {
	return store.Rebind(s.driver, query)
}

// Get implements Store. Expired rows are reported as not found; the
// janitor removes them later.
func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		sess    Session
		claim   auth.Claim
		expires time.Time
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, user_type, display_name, subject, access_token, user_id, csrf_state, created_at, expires_at
		     FROM sessions WHERE id = ?`), id).
		Scan(&sess.ID, &claim.Type, &claim.DisplayName, &claim.Subject, &claim.AccessToken,
			&claim.UserID, &sess.CSRFState, &sess.CreatedAt, &expires)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.ExpiresAt = expires
	if time.Now().UTC().After(expires) {
		return nil, ErrNotFound
	}
	if claim.Type == auth.UserTypeLocal || claim.Type == auth.UserTypeFederated {
		sess.Claim = claim
	}
	return &sess, nil
}

// Put implements Store as an upsert keyed by session id.
func (s *SQLStore) Put(ctx context.Context, sess *Session) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE sessions SET user_type = ?, display_name = ?, subject = ?, access_token = ?,
		     user_id = ?, csrf_state = ?, expires_at = ? WHERE id = ?`),
		string(sess.Claim.Type), sess.Claim.DisplayName, sess.Claim.Subject, sess.Claim.AccessToken,
		sess.Claim.UserID, sess.CSRFState, sess.ExpiresAt, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO sessions (id, user_type, display_name, subject, access_token, user_id, csrf_state, created_at, expires_at)
		     VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, string(sess.Claim.Type), sess.Claim.DisplayName, sess.Claim.Subject,
		sess.Claim.AccessToken, sess.Claim.UserID, sess.CSRFState, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ConsumeState implements Store with a conditional clear: the UPDATE
// only matches while the stored token still equals the presented one,
// so concurrent presentations race on rows-affected instead of on a
// read-then-write.
func (s *SQLStore) ConsumeState(ctx context.Context, id, presented string) (bool, error) {
	if presented != "" {
		res, err := s.db.ExecContext(ctx,
			s.q(`UPDATE sessions SET csrf_state = '' WHERE id = ? AND csrf_state = ? AND csrf_state <> ''`),
			id, presented)
		if err != nil {
			return false, fmt.Errorf("failed to consume state token: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return true, nil
		}
	}

	// Mismatch burns whatever token was pending.
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE sessions SET csrf_state = '' WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to burn state token: %w", err)
	}
	return false, nil
}

// ActiveCount implements Store.
func (s *SQLStore) ActiveCount(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sessions WHERE expires_at >= ?`), now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// PurgeExpired implements Store.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE expires_at < ?`), now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
