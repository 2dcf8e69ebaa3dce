package ledger

import (
	"context"
	"sync"
)

// MemoryCache is an in-process Cache for single-node runs and tests.
type MemoryCache struct {
	mu       sync.Mutex
	balances map[int64]Balances
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{balances: make(map[int64]Balances)}
}

func (c *MemoryCache) Balances(_ context.Context, userID int64) (Balances, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.balances[userID]
	if !ok {
		return Balances{}, ErrCacheMiss
	}
	return b, nil
}

func (c *MemoryCache) Seed(_ context.Context, userID int64, b Balances) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.balances[userID]; !ok {
		c.balances[userID] = b
	}
	return nil
}

func (c *MemoryCache) Deduct(_ context.Context, userID, amount int64) (Split, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.balances[userID]
	if !ok {
		return Split{}, ErrCacheMiss
	}
	if b.Total() < amount {
		return Split{}, ErrInsufficientFunds
	}
	fromTagged := min(b.Tagged, amount)
	fromMain := amount - fromTagged
	b.Tagged -= fromTagged
	b.Main -= fromMain
	c.balances[userID] = b
	return Split{FromMain: fromMain, FromTagged: fromTagged, After: b}, nil
}

func (c *MemoryCache) Adjust(_ context.Context, userID, mainDelta, taggedDelta int64) (Balances, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.balances[userID]
	if !ok {
		return Balances{}, ErrCacheMiss
	}
	b.Main += mainDelta
	b.Tagged += taggedDelta
	c.balances[userID] = b
	return b, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, userID)
	return nil
}
