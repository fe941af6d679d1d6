/*
Package session tracks issued login tokens in Redis so that logout revokes a token
before it expires.

Entries live in a single hash. The field is the SHA-256 of the token, so a Redis dump
never exposes a usable credential.
*/
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace is the Redis hash holding active sessions.
const Namespace = "user"

// ErrStoreUnavailable wraps every Redis I/O failure.
var ErrStoreUnavailable = errors.New("session store unavailable")

type entry struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store registers and revokes tokens.
type Store struct {
	client    redis.UniversalClient
	namespace string
	now       func() time.Time
}

// NewStore wraps client using the default namespace.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client, namespace: Namespace, now: time.Now}
}

func field(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register records token for userID until expiresAt.
func (s *Store) Register(ctx context.Context, token, userID string, expiresAt time.Time) error {
	payload, err := json.Marshal(entry{UserID: userID, ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.HSet(ctx, s.namespace, field(token), payload).Err(); err != nil {
		return fmt.Errorf("%w: register: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Revoke forgets token. Revoking an unknown token is not an error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.client.HDel(ctx, s.namespace, field(token)).Err(); err != nil {
		return fmt.Errorf("%w: revoke: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsActive reports whether token is registered and not past its expiry.
func (s *Store) IsActive(ctx context.Context, token string) (bool, error) {
	raw, err := s.client.HGet(ctx, s.namespace, field(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %v", ErrStoreUnavailable, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, nil
	}
	return s.now().Unix() < e.ExpiresAt, nil
}

// PurgeExpired removes expired or unreadable entries and returns how many were dropped.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	all, err := s.client.HGetAll(ctx, s.namespace).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: purge: %v", ErrStoreUnavailable, err)
	}

	now := s.now().Unix()
	var stale []string
	for f, raw := range all {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil || e.ExpiresAt <= now {
			stale = append(stale, f)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.client.HDel(ctx, s.namespace, stale...).Err(); err != nil {
		return 0, fmt.Errorf("%w: purge: %v", ErrStoreUnavailable, err)
	}
	return len(stale), nil
}
