// Package tasks runs fire-and-forget side effects (message persistence,
// credit retries) on a bounded worker pool. A task failure is logged and
// never reaches the caller that submitted it.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"chat-game-server/internal/config"
)

const (
	DefaultMaxGoroutines = 16
	DefaultTimeout       = 5 * time.Second
)

// Runner executes submitted tasks with bounded concurrency.
type Runner struct {
	pool    *pool.Pool
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewRunner creates a runner from the tasks configuration.
func NewRunner(cfg config.TasksConfig) *Runner {
	n := cfg.MaxGoroutines
	if n <= 0 {
		n = DefaultMaxGoroutines
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		pool:    pool.New().WithMaxGoroutines(n),
		timeout: timeout,
	}
}

// Submit queues fn without waiting for a free worker. Tasks submitted
// after Close are dropped with a warning.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Warn().Str("task", name).Msg("Task runner closed, dropping task")
		return
	}
	r.pending.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.pending.Done()
		r.pool.Go(func() { r.run(name, fn) })
	}()
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("task", name).Msg("Recovered from panic in background task")
		}
	}()

	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Str("task", name).Dur("elapsed", time.Since(start)).Msg("Background task failed")
		return
	}
	log.Debug().Str("task", name).Dur("elapsed", time.Since(start)).Msg("Background task done")
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.pending.Wait()
	r.pool.Wait()
}
