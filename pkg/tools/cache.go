package tools

import (
	"context"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL is how long a GET result stays fresh when no TTL is configured.
const DefaultCacheTTL = 60 * time.Second

// Cache stores successful GET results. An entry is fresh while younger than
// the cache's TTL; stale entries are never returned.
type Cache interface {
	Get(ctx context.Context, key string) (*types.ToolCallResult, bool)
	Set(ctx context.Context, key string, r *types.ToolCallResult)
}

// MemoryCache is a bounded in-process cache with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, *types.ToolCallResult]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{lru: expirable.NewLRU[string, *types.ToolCallResult](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*types.ToolCallResult, bool) {
	return c.lru.Get(key)
}

func (c *MemoryCache) Set(_ context.Context, key string, r *types.ToolCallResult) {
	c.lru.Add(key, r)
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int { return c.lru.Len() }
