// Package idgen generates trace and run identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// UUID generates random UUIDs.
type UUID struct{}

func (UUID) New() string {
	return uuid.NewString()
}

// TimeOrdered generates UUIDv7 values, which sort by creation time. It
// falls back to v4 if the clock source fails.
type TimeOrdered struct{}

func (TimeOrdered) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Sequential generates predictable IDs for tests.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

func (s *Sequential) Reset() {
	s.counter.Store(0)
}
