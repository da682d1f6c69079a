package cache

import (
	"context"
	"sync"
	"time"

	"coinpeek/internal/storage"
)

// MemoryCache is a process-local SnapshotCache.
type MemoryCache struct {
	mu      sync.RWMutex
	latest  map[string]storage.PriceSnapshot
	state   string
	stateAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{latest: make(map[string]storage.PriceSnapshot)}
}

func (c *MemoryCache) SetLatest(_ context.Context, snapshot storage.PriceSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[snapshot.Symbol] = snapshot
	return nil
}

func (c *MemoryCache) Latest(_ context.Context, symbol string) (storage.PriceSnapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot, ok := c.latest[symbol]
	return snapshot, ok, nil
}

func (c *MemoryCache) SetState(_ context.Context, state string, asOf time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.stateAt = asOf
	return nil
}

// State returns the last published connectivity label.
func (c *MemoryCache) State() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.stateAt
}

func (c *MemoryCache) Close() error { return nil }

var _ SnapshotCache = (*MemoryCache)(nil)
