// Package clock provides the executor's time source and backoff sleeper.
package clock

import (
	"context"
	"sync"
	"time"
)

// Real uses the wall clock.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Sleep waits for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake is a controllable clock for tests. Sleep returns at once, advances
// the clock and records the requested duration.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
	sleeps  []time.Duration
}

// NewFake creates a fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.current = f.current.Add(d)
	return nil
}

// Sleeps returns every duration passed to Sleep.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]time.Duration(nil), f.sleeps...)
}
