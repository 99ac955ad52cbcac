// Package ratelimit implements a fixed window limiter with burst tokens.
// The window algorithm is pure; Limiter adds storage and a clock.
package ratelimit

import "time"

// WindowState is the persisted state of one key's window.
type WindowState struct {
	Count     int
	WindowEnd time.Time
	BurstUsed int
}

// Result is the outcome of a check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Config limits a key to Limit hits per Window plus BurstTokens extra hits.
type Config struct {
	Limit       int           `yaml:"limit"`
	Window      time.Duration `yaml:"window"`
	BurstTokens int           `yaml:"burst_tokens"`
}

// Check consumes one hit from state. The returned state must be persisted
// by the caller. It has no side effects.
func Check(state WindowState, cfg Config, now time.Time) (Result, WindowState) {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if state.WindowEnd.IsZero() || !now.Before(state.WindowEnd) {
		state = WindowState{WindowEnd: now.Truncate(cfg.Window).Add(cfg.Window)}
	}

	if state.Count < cfg.Limit {
		state.Count++
		return Result{Allowed: true, Remaining: cfg.Limit - state.Count, ResetAt: state.WindowEnd}, state
	}

	if state.BurstUsed < cfg.BurstTokens {
		state.Count++
		state.BurstUsed++
		return Result{Allowed: true, ResetAt: state.WindowEnd}, state
	}

	return Result{ResetAt: state.WindowEnd}, state
}

// RetryAfter is how long a rejected caller should wait.
func RetryAfter(r Result, now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
