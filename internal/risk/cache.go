package risk

import (
	"context"
	"sync"
	"time"
)

// VerdictCache holds the most recent gate verdict per user for a short TTL.
// Invalidate must be called when a proposal for the user is rejected so the
// next evaluation recomputes instead of reusing a stale allow.
type VerdictCache interface {
	Get(ctx context.Context, userID string) (*Verdict, error)
	Set(ctx context.Context, userID string, v Verdict) error
	Invalidate(ctx context.Context, userID string) error
}

type memoryEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

// MemoryCache is the single-instance backend. Multi-instance deployments use
// RedisCache so invalidation propagates.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryCache{ttl: ttl, entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(ctx context.Context, userID string) (*Verdict, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, userID)
		return nil, nil
	}
	v := e.verdict
	return &v, nil
}

func (c *MemoryCache) Set(ctx context.Context, userID string, v Verdict) error {
	if c == nil || userID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = memoryEntry{verdict: v, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}
