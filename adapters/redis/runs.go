// Package redis provides Redis backed audit and rate limit storage.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/audit"
)

// RunStore keeps the most recent run entries in a capped Redis list and
// indexes them by trace.
type RunStore struct {
	client   *backend.Client
	prefix   string
	maxRuns  int64
	traceTTL time.Duration
}

type Option func(*RunStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *RunStore) {
		s.prefix = prefix
	}
}

// WithMaxRuns caps the global run list.
func WithMaxRuns(n int64) Option {
	return func(s *RunStore) {
		if n > 0 {
			s.maxRuns = n
		}
	}
}

// WithTraceTTL sets how long per-trace lists live.
func WithTraceTTL(ttl time.Duration) Option {
	return func(s *RunStore) {
		s.traceTTL = ttl
	}
}

// New connects to Redis.
func New(address, password string, db int, opts ...Option) *RunStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *RunStore {
	s := &RunStore{
		client:   client,
		prefix:   "actionkit:",
		maxRuns:  10000,
		traceTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSink wraps the store in a batching audit sink.
func NewSink(s *RunStore, cfg audit.BufferConfig, logger zerolog.Logger) *audit.Buffered {
	return audit.NewBuffered(s, cfg, logger)
}

func (s *RunStore) runsKey() string {
	return s.prefix + "runs"
}

func (s *RunStore) traceKey(traceID string) string {
	return s.prefix + "trace:" + traceID
}

// Write pushes entries newest first onto the run list and appends them to
// their trace lists.
func (s *RunStore) Write(ctx context.Context, entries []audit.RunEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal run %s: %w", e.ID, err)
		}
		pipe.LPush(ctx, s.runsKey(), data)
		if e.TraceID != "" {
			pipe.RPush(ctx, s.traceKey(e.TraceID), data)
			if s.traceTTL > 0 {
				pipe.Expire(ctx, s.traceKey(e.TraceID), s.traceTTL)
			}
		}
	}
	pipe.LTrim(ctx, s.runsKey(), 0, s.maxRuns-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write runs: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]audit.RunEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, s.runsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	return decodeRuns(raw)
}

// Trace returns every entry of one trace in attempt order.
func (s *RunStore) Trace(ctx context.Context, traceID string) ([]audit.RunEntry, error) {
	raw, err := s.client.LRange(ctx, s.traceKey(traceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeRuns(raw)
}

// Close closes the underlying client.
func (s *RunStore) Close() error {
	return s.client.Close()
}

func decodeRuns(raw []string) ([]audit.RunEntry, error) {
	out := make([]audit.RunEntry, 0, len(raw))
	for _, r := range raw {
		var e audit.RunEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
