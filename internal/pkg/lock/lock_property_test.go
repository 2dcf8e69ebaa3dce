package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestConcurrentPotSafetyProperty checks that read-modify-write updates of a
// shared pot under the room lock match sequential execution.
func TestConcurrentPotSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialPot := rapid.Int64Range(0, 100000).Draw(t, "initialPot")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		amounts := make([]int64, numOps)
		expected := initialPot
		for i := 0; i < numOps; i++ {
			amounts[i] = rapid.Int64Range(1, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		room := fmt.Sprintf("room-%d", rapid.IntRange(1, 1000).Draw(t, "room"))
		kl := NewKeyedLock()
		pot := initialPot

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, a := range amounts {
			go func(amount int64) {
				defer wg.Done()
				kl.Lock(room)
				defer kl.Unlock(room)
				pot += amount
			}(a)
		}
		wg.Wait()

		if pot != expected {
			t.Fatalf("pot mismatch: expected %d, got %d", expected, pot)
		}
		if kl.Len() != 0 {
			t.Fatalf("expected no tracked keys after release, got %d", kl.Len())
		}
	})
}

// TestWithLockFunctionProperty tests that WithLock serializes operations.
func TestWithLockFunctionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(5, 30).Draw(t, "numOps")
		step := rapid.Int64Range(1, 100).Draw(t, "step")

		kl := NewKeyedLock()
		var total int64

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				_ = kl.WithLock("room", func() error {
					total += step
					return nil
				})
			}()
		}
		wg.Wait()

		if total != int64(numOps)*step {
			t.Fatalf("expected %d, got %d", int64(numOps)*step, total)
		}
	})
}

// TestIndependentRoomsProperty tests that locks for different rooms are
// independent of each other.
func TestIndependentRoomsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numRooms := rapid.IntRange(2, 10).Draw(t, "numRooms")
		opsPerRoom := rapid.IntRange(5, 20).Draw(t, "opsPerRoom")

		kl := NewKeyedLock()
		counters := make([]int, numRooms)

		var wg sync.WaitGroup
		wg.Add(numRooms * opsPerRoom)
		for r := 0; r < numRooms; r++ {
			for j := 0; j < opsPerRoom; j++ {
				go func(idx int) {
					defer wg.Done()
					key := fmt.Sprintf("room-%d", idx)
					kl.Lock(key)
					defer kl.Unlock(key)
					counters[idx]++
				}(r)
			}
		}
		wg.Wait()

		for r, c := range counters {
			if c != opsPerRoom {
				t.Fatalf("room %d: expected %d, got %d", r, opsPerRoom, c)
			}
		}
	})
}

// TestTryLockSingleWinnerProperty tests that while one holder keeps the lock
// every concurrent TryLock fails.
func TestTryLockSingleWinnerProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAttempts := rapid.IntRange(5, 20).Draw(t, "numAttempts")

		kl := NewKeyedLock()
		kl.Lock("room")

		var successCount atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numAttempts)
		for i := 0; i < numAttempts; i++ {
			go func() {
				defer wg.Done()
				if kl.TryLock("room") {
					successCount.Add(1)
					kl.Unlock("room")
				}
			}()
		}
		wg.Wait()
		kl.Unlock("room")

		if successCount.Load() != 0 {
			t.Fatalf("expected no TryLock to succeed while held, got %d", successCount.Load())
		}
		if !kl.TryLock("room") {
			t.Fatal("lock should be available after release")
		}
		kl.Unlock("room")
	})
}

func TestLockWithTimeout(t *testing.T) {
	kl := NewKeyedLock()
	kl.Lock("room")

	ok := kl.LockWithTimeout(context.Background(), "room", 20*time.Millisecond)
	assert.False(t, ok)

	kl.Unlock("room")
	assert.Eventually(t, func() bool { return kl.Len() == 0 }, time.Second, 5*time.Millisecond)

	err := kl.WithLockContext(context.Background(), "room", time.Second, func() error { return nil })
	assert.NoError(t, err)
}

func TestWithLockContextTimeout(t *testing.T) {
	kl := NewKeyedLock()
	kl.Lock("room")
	defer kl.Unlock("room")

	err := kl.WithLockContext(context.Background(), "room", 10*time.Millisecond, func() error { return nil })
	assert.ErrorIs(t, err, ErrLockTimeout)
}
