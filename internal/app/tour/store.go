package tour

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace is the Redis hash holding every active tour.
const Namespace = "emergency"

const (
	maxUpdateRetries = 16
	retryBaseDelay   = 2 * time.Millisecond
)

var (
	// ErrTourNotFound is returned when no tour exists for the user.
	ErrTourNotFound = errors.New("tour not found")

	// ErrTourCorrupt is returned when a stored payload cannot be decoded.
	// It matches ErrTourNotFound under errors.Is.
	ErrTourCorrupt = fmt.Errorf("%w: corrupt payload", ErrTourNotFound)

	// ErrTourExists is returned by Create when the user already has a tour.
	ErrTourExists = errors.New("tour already exists")

	// ErrStoreUnavailable wraps every Redis I/O failure.
	ErrStoreUnavailable = errors.New("tour store unavailable")
)

// Store keeps tours in a Redis hash, one field per user id.
type Store struct {
	client    redis.UniversalClient
	namespace string
}

// NewStore wraps client using the default namespace.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client, namespace: Namespace}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func decode(raw []byte) (*Tour, error) {
	var t Tour
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTourCorrupt, err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTourCorrupt, err)
	}
	return &t, nil
}

// Put upserts the tour of userID unconditionally.
func (s *Store) Put(ctx context.Context, userID string, t *Tour) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tour: %w", err)
	}
	if err := s.client.HSet(ctx, s.namespace, userID, payload).Err(); err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Create stores t only if userID has no tour yet.
func (s *Store) Create(ctx context.Context, userID string, t *Tour) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tour: %w", err)
	}
	created, err := s.client.HSetNX(ctx, s.namespace, userID, payload).Result()
	if err != nil {
		return unavailable("create", err)
	}
	if !created {
		return ErrTourExists
	}
	return nil
}

// Get loads the tour of userID.
func (s *Store) Get(ctx context.Context, userID string) (*Tour, error) {
	raw, err := s.client.HGet(ctx, s.namespace, userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTourNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decode(raw)
}

// Exists reports whether userID has a tour.
func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.namespace, userID).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return ok, nil
}

// Delete removes the tour of userID and reports whether one existed. Deleting
// a missing tour is not an error.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.HDel(ctx, s.namespace, userID).Result()
	if err != nil {
		return false, unavailable("delete", err)
	}
	return n > 0, nil
}

// List returns every active tour keyed by owner. Corrupt entries are skipped
// and reported in the second map.
func (s *Store) List(ctx context.Context) (map[string]*Tour, map[string]error, error) {
	all, err := s.client.HGetAll(ctx, s.namespace).Result()
	if err != nil {
		return nil, nil, unavailable("list", err)
	}

	tours := make(map[string]*Tour, len(all))
	var corrupt map[string]error
	for userID, raw := range all {
		t, err := decode([]byte(raw))
		if err != nil {
			if corrupt == nil {
				corrupt = make(map[string]error)
			}
			corrupt[userID] = err
			continue
		}
		tours[userID] = t
	}
	return tours, corrupt, nil
}

// swapScript replaces one field of the namespace hash only while it still holds
// the payload the caller read. It returns -1 when the field is gone, 0 when
// another writer changed it and 1 on success.
var swapScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if not current then
  return -1
end
if current ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// Update applies fn to the stored tour of userID and writes it back with a
// compare-and-swap on that single field, so writers of other tours never
// conflict. fn runs again on a fresh copy after a conflicting write. Errors
// returned by fn are passed through unchanged and nothing is written.
func (s *Store) Update(ctx context.Context, userID string, fn func(*Tour) error) (*Tour, error) {
	for attempt := range maxUpdateRetries {
		raw, err := s.client.HGet(ctx, s.namespace, userID).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrTourNotFound
		}
		if err != nil {
			return nil, unavailable("update", err)
		}

		t, err := decode(raw)
		if err != nil {
			return nil, err
		}

		if err := fn(t); err != nil {
			return nil, err
		}

		payload, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode tour: %w", err)
		}

		res, err := swapScript.Run(ctx, s.client, []string{s.namespace}, userID, raw, payload).Int()
		if err != nil {
			return nil, unavailable("update", err)
		}
		switch res {
		case 1:
			return t, nil
		case -1:
			return nil, ErrTourNotFound
		}

		if err := backoff(ctx, attempt); err != nil {
			return nil, unavailable("update", err)
		}
	}

	return nil, unavailable("update", fmt.Errorf("gave up after %d conflicting writes", maxUpdateRetries))
}

// backoff sleeps a jittered, linearly growing delay before retry attempt+1.
func backoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay*time.Duration(attempt+1) + rand.N(retryBaseDelay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
