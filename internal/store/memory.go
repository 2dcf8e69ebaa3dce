package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// hitLog is one sliding window counter.
type hitLog struct {
	times  []time.Time
	window time.Duration
}

// prune drops hits older than now-window.
func (h *hitLog) prune(now time.Time) {
	cutoff := now.Add(-h.window)
	kept := h.times[:0]
	for _, t := range h.times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	h.times = kept
}

// sweepInterval spaces full scans for expired keys and idle counters.
const sweepInterval = time.Minute

// Memory implements Store in process memory. It backs single-node
// deployments (store.backend=memory) and the engine tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	hits    map[string]*hitLog
	now     func() time.Time
	seq     int64
	swept   time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memEntry),
		hits:    make(map[string]*hitLog),
		now:     time.Now,
	}
}

// SetClock replaces the store clock. Used by tests to expire keys.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// lookup returns a live entry; caller holds mu.
func (s *Memory) lookup(key string) (*memEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

func (s *Memory) set(key string, value []byte, ttl time.Duration) {
	e := &memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value, ttl)
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Memory) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok, nil
}

// Update holds the store mutex for the whole read-modify-write, so it never
// conflicts.
func (s *Memory) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if e, ok := s.lookup(key); ok {
		current = append([]byte(nil), e.value...)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(s.entries, key)
		return nil
	}
	s.set(key, next, ttl)
	return nil
}

func (s *Memory) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return "", false, nil
	}
	s.seq++
	token := strconv.FormatInt(s.seq, 10)
	s.set(key, []byte(token), ttl)
	return token, true, nil
}

func (s *Memory) ReleaseLock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lookup(key); ok && string(e.value) == token {
		delete(s.entries, key)
	}
	return nil
}

func (s *Memory) SlidingWindowHit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	h, ok := s.hits[key]
	if !ok {
		h = &hitLog{}
		s.hits[key] = h
	}
	h.window = window
	h.prune(now)
	h.times = append(h.times, now)
	return int64(len(h.times)), nil
}

// sweep drops expired entries and counters with no hit left in their
// window, at most once per sweepInterval; caller holds mu.
func (s *Memory) sweep(now time.Time) {
	if now.Sub(s.swept) < sweepInterval {
		return
	}
	s.swept = now
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
	for key, h := range s.hits {
		h.prune(now)
		if len(h.times) == 0 {
			delete(s.hits, key)
		}
	}
}

func (s *Memory) FixedWindowHit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	e, ok := s.lookup(key)
	if ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
		n++
		e.value = []byte(strconv.FormatInt(n, 10))
		return n, nil
	}
	n = 1
	s.set(key, []byte("1"), window)
	return n, nil
}
