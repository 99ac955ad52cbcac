// Package audit records one RunEntry per handler attempt and ships them to
// a sink. Sinks are best effort and never block the executor.
package audit

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// RunEntry describes one handler attempt.
type RunEntry struct {
	ID          string    `json:"id"`
	ActionName  string    `json:"action"`
	ModuleName  string    `json:"module,omitempty"`
	TraceID     string    `json:"trace_id"`
	TriggerType string    `json:"trigger"`
	Status      Status    `json:"status"`
	Input       any       `json:"input,omitempty"`
	Output      any       `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	Attempt     int       `json:"attempt"`
}

// Sink receives run entries.
type Sink interface {
	// PushRun enqueues an entry. It must not block.
	PushRun(entry RunEntry)
	// Flush writes everything enqueued so far.
	Flush(ctx context.Context) error
	// Shutdown flushes and releases resources.
	Shutdown(ctx context.Context) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) PushRun(RunEntry)               {}
func (Nop) Flush(context.Context) error    { return nil }
func (Nop) Shutdown(context.Context) error { return nil }

// Memory keeps entries in memory. It is meant for tests and the dev server.
type Memory struct {
	mu      sync.Mutex
	entries []RunEntry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) PushRun(e RunEntry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}

func (m *Memory) Flush(context.Context) error    { return nil }
func (m *Memory) Shutdown(context.Context) error { return nil }

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []RunEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunEntry(nil), m.entries...)
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]RunEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RunEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}
