package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store persists window state per key.
type Store interface {
	Get(ctx context.Context, key string) (WindowState, error)
	Set(ctx context.Context, key string, state WindowState) error
}

// Limiter applies Check against a Store. Checks for the same limiter are
// serialized so read-modify-write on a key is atomic within the process.
type Limiter struct {
	mu    sync.Mutex
	store Store
	cfg   Config
	now   func() time.Time
}

// NewLimiter builds a limiter. A nil store uses an in-memory store.
func NewLimiter(store Store, cfg Config, now func() time.Time) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, cfg: cfg, now: now}
}

// Allow consumes one hit for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	res, next := Check(state, l.cfg, l.now())
	if err := l.store.Set(ctx, key, next); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Now returns the limiter's clock reading.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// MemoryStore keeps window state in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	state map[string]WindowState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string]WindowState)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (WindowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[key], nil
}

func (s *MemoryStore) Set(_ context.Context, key string, state WindowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = state
	return nil
}
