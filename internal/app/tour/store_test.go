package tour

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client), mr
}

func sampleTour() *Tour {
	return New("kim", "chest pain", "12가3456", "127.0276", "37.4979")
}

func TestCreateThenGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "u1", sampleTour()))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusReady, got.Status)
	require.Nil(t, got.Hospital)
	require.Nil(t, got.RemainDistance)
	require.Nil(t, got.CurrentLocation)
}

func TestCreateRejectsSecondTour(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "u1", sampleTour()))
	require.ErrorIs(t, s.Create(ctx, "u1", sampleTour()), ErrTourExists)
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Create(ctx, "u1", sampleTour())
		}()
	}
	wg.Wait()
	close(results)

	var ok, exists int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTourExists):
			exists++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 7, exists)
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrTourNotFound)
}

func TestGetCorruptMatchesNotFound(t *testing.T) {
	s, mr := newTestStore(t)
	mr.HSet(Namespace, "u1", "{not json")

	_, err := s.Get(context.Background(), "u1")
	require.ErrorIs(t, err, ErrTourCorrupt)
	require.ErrorIs(t, err, ErrTourNotFound)

	mr.HSet(Namespace, "u2", `{"status":"FLYING","license_number":"x"}`)
	_, err = s.Get(context.Background(), "u2")
	require.ErrorIs(t, err, ErrTourCorrupt)
}

func TestDeleteAndExists(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "u1", sampleTour()))
	ok, err := s.Exists(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := s.Delete(ctx, "u1")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.Delete(ctx, "u1")
	require.NoError(t, err)
	require.False(t, removed)

	ok, err = s.Exists(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListSkipsCorrupt(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "u1", sampleTour()))
	require.NoError(t, s.Put(ctx, "u2", sampleTour()))
	mr.HSet(Namespace, "u3", "garbage")

	tours, corrupt, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, tours, 2)
	require.Contains(t, tours, "u1")
	require.Contains(t, corrupt, "u3")
}

func TestUpdateAppliesMutation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "u1", sampleTour()))

	updated, err := s.Update(ctx, "u1", func(tr *Tour) error {
		tr.Status = StatusRide
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusRide, updated.Status)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusRide, got.Status)
}

func TestUpdatePassesThroughMutatorError(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "u1", sampleTour()))

	sentinel := errors.New("rejected")
	_, err := s.Update(ctx, "u1", func(tr *Tour) error {
		tr.Status = StatusArrive
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, StatusReady, got.Status)
}

func TestUpdateMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Update(context.Background(), "nobody", func(*Tour) error { return nil })
	require.ErrorIs(t, err, ErrTourNotFound)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "u1", sampleTour()))

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "u1", func(tr *Tour) error {
				d := 1
				if tr.RemainDistance != nil {
					d = *tr.RemainDistance + 1
				}
				tr.RemainDistance = &d
				return nil
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, *got.RemainDistance)
}

func TestConcurrentUpdatesOfDistinctToursDoNotConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const users, rounds = 50, 10
	for i := range users {
		require.NoError(t, s.Create(ctx, fmt.Sprintf("u%d", i), sampleTour()))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, users*rounds)
	for i := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for n := range rounds {
				_, err := s.Update(ctx, userID, func(tr *Tour) error {
					tr.SetLocation(fmt.Sprintf("%s-%d", userID, n), nil)
					return nil
				})
				errCh <- err
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()
	close(errCh)

	failed := 0
	for err := range errCh {
		if err != nil {
			failed++
		}
	}
	require.Zero(t, failed)

	for i := range users {
		got, err := s.Get(ctx, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("u%d-%d", i, rounds-1), *got.CurrentLocation)
	}
}

func TestUpdateRetriesAfterConcurrentWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "u1", sampleTour()))

	calls := 0
	got, err := s.Update(ctx, "u1", func(tr *Tour) error {
		calls++
		if calls == 1 {
			other := sampleTour()
			other.SetLocation("elsewhere", nil)
			require.NoError(t, s.Put(ctx, "u1", other))
		}
		d := 700
		tr.RemainDistance = &d
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, "elsewhere", *got.CurrentLocation)

	stored, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 700, *stored.RemainDistance)
	require.Equal(t, "elsewhere", *stored.CurrentLocation)
}

func TestUpdateDoesNotRecreateDeletedTour(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "u1", sampleTour()))

	_, err := s.Update(ctx, "u1", func(*Tour) error {
		_, delErr := s.Delete(ctx, "u1")
		require.NoError(t, delErr)
		return nil
	})
	require.ErrorIs(t, err, ErrTourNotFound)

	exists, err := s.Exists(ctx, "u1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUnavailableWhenRedisDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "u1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrTourNotFound)
}
