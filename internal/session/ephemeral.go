package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned by Get/Export for an unknown or expired
// session id.
var ErrSessionNotFound = errors.New("session: not found")

// Record is the short-lived state the orchestrator threads across
// suspensions: which conversation a session belongs to and a free-form
// scratchpad (pending tool observations, partial plans). It is never
// treated as durable; the turn log in Store is the source of truth.
type Record struct {
	ConversationID string          `json:"conversation_id"`
	Scratchpad     json.RawMessage `json:"scratchpad,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EphemeralStore is a Redis-backed key/TTL store for Session records,
// grounded on the orchestrator package's RedisDedupeStore idiom (plain
// client wrapper, ping-on-construct, key/TTL operations).
type EphemeralStore struct {
	client *redis.Client
}

// NewEphemeralStore dials addr and validates the connection with a ping.
func NewEphemeralStore(addr string) (*EphemeralStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	return &EphemeralStore{client: c}, nil
}

func (s *EphemeralStore) Close() error { return s.client.Close() }

func sessionKey(id string) string { return "session:" + id }

// Create writes a new session record with the given TTL.
func (s *EphemeralStore) Create(ctx context.Context, sessionID string, r Record, ttl time.Duration) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), b, ttl).Err(); err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

// Get reads a session record. ErrSessionNotFound is returned once the TTL
// has elapsed or the id was never created.
func (s *EphemeralStore) Get(ctx context.Context, sessionID string) (Record, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: get: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("session: unmarshal record: %w", err)
	}
	return r, nil
}

// Update overwrites a session's record while preserving its remaining TTL.
func (s *EphemeralStore) Update(ctx context.Context, sessionID string, r Record) error {
	ttl, err := s.client.TTL(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("session: update ttl lookup: %w", err)
	}
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), b, ttl).Err(); err != nil {
		return fmt.Errorf("session: update: %w", err)
	}
	return nil
}

// ExtendTTL resets a session's time-to-live without touching its content.
func (s *EphemeralStore) ExtendTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, sessionKey(sessionID), ttl).Result()
	if err != nil {
		return fmt.Errorf("session: extend ttl: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a session record immediately.
func (s *EphemeralStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// Export returns the raw JSON for a session record, for diagnostics or
// handing scratchpad state to another process; it does not extend the TTL.
func (s *EphemeralStore) Export(ctx context.Context, sessionID string) ([]byte, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: export: %w", err)
	}
	return raw, nil
}
