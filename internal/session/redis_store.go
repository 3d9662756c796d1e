// Package session keeps editor sessions in Redis, keyed by the session id
// carried in the session token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means the session was revoked or has expired.
var ErrNotFound = errors.New("session not found or expired")

// Record is the data stored for each session. StoreToken is the upstream
// access token writes are committed with.
type Record struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	StoreToken  string    `json:"store_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "navsphere:session:",
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save stores a session until expiresAt.
func (s *RedisStore) Save(ctx context.Context, sessionID string, record Record, expiresAt time.Time) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sessionID)
	}

	if err := s.client.Set(ctx, s.key(sessionID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (Record, error) {
	jsonData, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup session: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if record.Role == "" {
		record.Role = "viewer"
	}
	return record, nil
}

// Revoke deletes a session. Revoking an unknown session is not an error.
func (s *RedisStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
