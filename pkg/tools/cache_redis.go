package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "georisk:tools:"

// RedisCache shares GET results between gateway replicas.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

type cachedResult struct {
	Structured bool            `json:"structured"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Text       string          `json:"text,omitempty"`
}

// Get treats any Redis failure as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*types.ToolCallResult, bool) {
	b, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.WarnContext(ctx, "tool cache get failed", "error", err)
		return nil, false
	}
	var cr cachedResult
	if err := json.Unmarshal(b, &cr); err != nil {
		return nil, false
	}
	if !cr.Structured {
		return &types.ToolCallResult{Text: cr.Text}, true
	}
	var v any
	if err := json.Unmarshal(cr.Raw, &v); err != nil {
		return nil, false
	}
	return &types.ToolCallResult{Structured: true, Value: v, Raw: cr.Raw}, true
}

func (c *RedisCache) Set(ctx context.Context, key string, r *types.ToolCallResult) {
	cr := cachedResult{Structured: r.Structured, Text: r.Text, Raw: r.Raw}
	if r.Structured && len(cr.Raw) == 0 {
		raw, err := json.Marshal(r.Value)
		if err != nil {
			return
		}
		cr.Raw = raw
	}
	b, err := json.Marshal(cr)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, b, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "tool cache set failed", "error", err)
	}
}
