package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CheckFunc reports whether one backing service answers.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name  string
	check CheckFunc
}

// Health aggregates the checks behind GET /healthz.
type Health struct {
	checks []namedCheck
}

// NewHealth creates an empty Health. With no checks it always passes.
func NewHealth() *Health {
	return &Health{}
}

// Add registers a named check.
func (h *Health) Add(name string, check CheckFunc) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// Check runs every check in order and returns the first failure.
func (h *Health) Check(ctx context.Context) error {
	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// RedisCheck pings client within a short deadline.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
