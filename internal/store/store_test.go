package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-game-server/internal/model"
)

// runStoreContract exercises behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put get delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Minute))
		v, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(v))

		ok, err := s.Exists(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Delete(ctx, "k1"))
		ok, err = s.Exists(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update creates, modifies and deletes", func(t *testing.T) {
		err := s.Update(ctx, "doc", time.Minute, func(cur []byte) ([]byte, error) {
			assert.Nil(t, cur)
			return []byte("1"), nil
		})
		require.NoError(t, err)

		err = s.Update(ctx, "doc", time.Minute, func(cur []byte) ([]byte, error) {
			n, _ := strconv.Atoi(string(cur))
			return []byte(strconv.Itoa(n + 1)), nil
		})
		require.NoError(t, err)
		v, err := s.Get(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, "2", string(v))

		require.NoError(t, s.Update(ctx, "doc", 0, func([]byte) ([]byte, error) { return nil, nil }))
		_, err = s.Get(ctx, "doc")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update abort leaves document", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "keep", []byte("x"), time.Minute))
		boom := errors.New("boom")
		err := s.Update(ctx, "keep", time.Minute, func([]byte) ([]byte, error) { return []byte("y"), boom })
		assert.ErrorIs(t, err, boom)
		v, err := s.Get(ctx, "keep")
		require.NoError(t, err)
		assert.Equal(t, "x", string(v))
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		const workers = 20
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				for {
					err := s.Update(ctx, "counter", time.Minute, func(cur []byte) ([]byte, error) {
						n, _ := strconv.Atoi(string(cur))
						return []byte(strconv.Itoa(n + 1)), nil
					})
					if !errors.Is(err, ErrConflict) {
						assert.NoError(t, err)
						return
					}
				}
			}()
		}
		wg.Wait()
		v, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers), string(v))
	})

	t.Run("lock is exclusive and token bound", func(t *testing.T) {
		key := LockKey("room-1", "start")
		token, ok, err := s.AcquireLock(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = s.AcquireLock(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.ReleaseLock(ctx, key, "not-the-token"))
		_, ok, _ = s.AcquireLock(ctx, key, time.Minute)
		assert.False(t, ok, "a foreign token must not release the lock")

		require.NoError(t, s.ReleaseLock(ctx, key, token))
		_, ok, err = s.AcquireLock(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("counters", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			n, err := s.SlidingWindowHit(ctx, "flood:1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, n)

			n, err = s.FixedWindowHit(ctx, "rate:1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}
	})

	t.Run("room markers", func(t *testing.T) {
		g, err := GetActiveGameType(ctx, s, "room-9")
		require.NoError(t, err)
		assert.Equal(t, model.GameNone, g)

		require.NoError(t, SetActiveGameType(ctx, s, "room-9", model.GameLowCard))
		g, err = GetActiveGameType(ctx, s, "room-9")
		require.NoError(t, err)
		assert.Equal(t, model.GameLowCard, g)

		require.NoError(t, SetBotFlag(ctx, s, "room-9", model.GameLowCard))
		ok, err := HasBotFlag(ctx, s, "room-9", model.GameLowCard)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, ClearBotFlag(ctx, s, "room-9", model.GameLowCard))
		require.NoError(t, ClearActiveGameType(ctx, s, "room-9"))
		ok, _ = HasBotFlag(ctx, s, "room-9", model.GameLowCard)
		assert.False(t, ok)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, "short", []byte("v"), 5*time.Second))
	_, ok, _ := s.AcquireLock(ctx, "lock", 5*time.Second)
	require.True(t, ok)
	n, _ := s.SlidingWindowHit(ctx, "flood", 3*time.Second)
	assert.Equal(t, int64(1), n)

	now = now.Add(6 * time.Second)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok, _ = s.AcquireLock(ctx, "lock", 5*time.Second)
	assert.True(t, ok, "expired lock can be taken again")
	n, _ = s.SlidingWindowHit(ctx, "flood", 3*time.Second)
	assert.Equal(t, int64(1), n, "old hits slide out of the window")
	n, _ = s.FixedWindowHit(ctx, "rate", time.Second)
	assert.Equal(t, int64(1), n)
}

func TestMemorySweepsIdleCounters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	s.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := s.SlidingWindowHit(ctx, "flood:r1:1", 3*time.Second)
		require.NoError(t, err)
	}
	require.NoError(t, s.Put(ctx, "short", []byte("v"), 5*time.Second))
	assert.Len(t, s.hits["flood:r1:1"].times, 3)

	now = now.Add(2 * sweepInterval)
	n, err := s.SlidingWindowHit(ctx, "flood:r1:2", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.hits, "flood:r1:1", "idle counter released")
	assert.Contains(t, s.hits, "flood:r1:2")
	assert.NotContains(t, s.entries, "short", "expired entry released")
}
