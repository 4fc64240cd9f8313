package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/catalogkit/catalogd/pkg/auth"
)

// RedisStore keeps sessions in Redis with TTL-based expiry, for
// deployments running more than one replica against the same session
// space.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, used in tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// storedSession mirrors Session for JSON persistence. The access token is
// excluded from Session's public JSON form, so persistence uses its own
// shape.
type storedSession struct {
	ID          string    `json:"id"`
	UserType    string    `json:"user_type"`
	DisplayName string    `json:"display_name"`
	Subject     string    `json:"subject"`
	AccessToken string    `json:"access_token"`
	UserID      int64     `json:"user_id"`
	CSRFState   string    `json:"csrf_state"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func sessionKey(id string) string {
	return "catalog:session:" + id
}

func claimType(s string) auth.UserType {
	switch t := auth.UserType(s); t {
	case auth.UserTypeLocal, auth.UserTypeFederated:
		return t
	default:
		return ""
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	sess := &Session{
		ID:        stored.ID,
		CSRFState: stored.CSRFState,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	sess.Claim.Type = claimType(stored.UserType)
	sess.Claim.DisplayName = stored.DisplayName
	sess.Claim.Subject = stored.Subject
	sess.Claim.AccessToken = stored.AccessToken
	sess.Claim.UserID = stored.UserID
	return sess, nil
}

// Put implements Store. The key TTL tracks the session expiry so Redis
// evicts on its own.
func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	stored := storedSession{
		ID:          sess.ID,
		UserType:    string(sess.Claim.Type),
		DisplayName: sess.Claim.DisplayName,
		Subject:     sess.Claim.Subject,
		AccessToken: sess.Claim.AccessToken,
		UserID:      sess.Claim.UserID,
		CSRFState:   sess.CSRFState,
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// consumeStateScript clears the csrf_state field inside the stored JSON
// and reports whether the presented token matched, in one round trip.
// The payload is always written by Put, so the field's textual form is
// stable enough to rewrite without decoding.
var consumeStateScript = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
	return 0
end
local cleared = string.gsub(data, '"csrf_state":"[^"]*"', '"csrf_state":""')
local ttl = redis.call("TTL", KEYS[1])
if ttl > 0 then
	redis.call("SET", KEYS[1], cleared, "EX", ttl)
elseif ttl == -1 then
	redis.call("SET", KEYS[1], cleared)
end
if ARGV[1] ~= "" and string.find(data, '"csrf_state":"' .. ARGV[1] .. '"', 1, true) then
	return 1
end
return 0
`)

// ConsumeState implements Store. The compare and the clear run inside a
// single script, so concurrent presentations of the same token can match
// at most once.
func (s *RedisStore) ConsumeState(ctx context.Context, id, presented string) (bool, error) {
	n, err := consumeStateScript.Run(ctx, s.client, []string{sessionKey(id)}, presented).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to consume state token: %w", err)
	}
	return n == 1, nil
}

// ActiveCount implements Store by walking the session keyspace. Redis
// drops expired keys itself, so everything the scan sees is live.
func (s *RedisStore) ActiveCount(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, sessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// PurgeExpired implements Store. Redis evicts by TTL, so there is nothing
// to sweep.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
