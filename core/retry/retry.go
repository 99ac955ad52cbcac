// Package retry holds the retry policy, backoff calculation and the pure
// classifier that decides whether a failure may be retried.
package retry

import (
	"time"

	"github.com/artpar/actionkit/core/failure"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	Fixed       Backoff = "fixed"
	Exponential Backoff = "exponential"
)

const (
	DefaultMaxAttempts = 1
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Config is a retry policy. The zero value means a single attempt.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Backoff     Backoff       `yaml:"backoff" json:"backoff"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	// RetryIf further restricts retries after classification.
	RetryIf func(error) bool `yaml:"-" json:"-"`
	// Deadline bounds the wall clock time spent across all attempts.
	Deadline time.Duration `yaml:"deadline" json:"deadline"`
}

// Normalize fills defaults.
func (c Config) Normalize() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff != Fixed {
		c.Backoff = Exponential
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Deadline < 0 {
		c.Deadline = 0
	}
	return c
}

// ShouldRetry reports whether another attempt follows a failed attempt.
func (c Config) ShouldRetry(err error, attempt int) bool {
	if attempt >= c.MaxAttempts {
		return false
	}
	if !Retryable(err) {
		return false
	}
	return c.RetryIf == nil || c.RetryIf(err)
}

// Delay returns the pause after the given 1-indexed attempt.
// Fixed waits BaseDelay; exponential waits BaseDelay*2^(attempt-1) capped
// at MaxDelay.
func Delay(c Config, attempt int) time.Duration {
	c = c.Normalize()
	if c.Backoff == Fixed {
		return c.BaseDelay
	}
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay || d <= 0 {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Retryable classifies a failure. It is pure: validation, guard,
// circular, panic and explicitly non-retriable failures never retry,
// domain failures retry only for server-side statuses, and every other
// error retries.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	fe, ok := failure.As(err)
	if !ok {
		return true
	}
	switch fe.Kind {
	case failure.KindNonRetriable, failure.KindValidation, failure.KindGuard,
		failure.KindCircular, failure.KindPanic:
		return false
	case failure.KindDomain:
		return fe.Status == 0 || fe.Status >= 500
	default:
		return true
	}
}
