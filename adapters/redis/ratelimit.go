package redis

import (
	"context"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/artpar/actionkit/core/ratelimit"
)

// RateLimitStore keeps rate limit windows in Redis hashes so limits hold
// across processes.
type RateLimitStore struct {
	client *backend.Client
	prefix string
}

// NewRateLimitStore wraps an existing client.
func NewRateLimitStore(client *backend.Client, prefix string) *RateLimitStore {
	if prefix == "" {
		prefix = "actionkit:ratelimit:"
	}
	return &RateLimitStore{client: client, prefix: prefix}
}

func (s *RateLimitStore) Get(ctx context.Context, key string) (ratelimit.WindowState, error) {
	vals, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return ratelimit.WindowState{}, err
	}
	if len(vals) == 0 {
		return ratelimit.WindowState{}, nil
	}
	count, _ := strconv.Atoi(vals["count"])
	burst, _ := strconv.Atoi(vals["burst"])
	endMs, _ := strconv.ParseInt(vals["end"], 10, 64)
	return ratelimit.WindowState{
		Count:     count,
		BurstUsed: burst,
		WindowEnd: time.UnixMilli(endMs).UTC(),
	}, nil
}

// Set stores state and expires the hash when its window ends.
func (s *RateLimitStore) Set(ctx context.Context, key string, state ratelimit.WindowState) error {
	k := s.prefix + key
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k,
		"count", state.Count,
		"burst", state.BurstUsed,
		"end", state.WindowEnd.UnixMilli(),
	)
	if !state.WindowEnd.IsZero() {
		pipe.ExpireAt(ctx, k, state.WindowEnd)
	}
	_, err := pipe.Exec(ctx)
	return err
}
