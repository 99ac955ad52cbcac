// Package events provides the in-process event bus used by Context.Emit
// and the event trigger channel.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a published event.
type Event struct {
	// Name is the dotted event name, e.g. "user.created".
	Name string `json:"name"`

	// Source is the key of the action that emitted the event, if any.
	Source string `json:"source,omitempty"`

	// TraceID links the event to the emitting invocation.
	TraceID string `json:"trace_id,omitempty"`

	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	inflight sync.WaitGroup
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler and returns a function that removes it.
// Patterns:
//   - "user.created" exact match
//   - "user.*" every event under "user."
//   - "*" every event
func (b *Bus) Subscribe(pattern string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[pattern] = append(b.handlers[pattern], subscription{id: id, fn: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[pattern]
		for i, s := range subs {
			if s.id == id {
				b.handlers[pattern] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.handlers[pattern]) == 0 {
			delete(b.handlers, pattern)
		}
	}
}

// Publish delivers event to every matching handler synchronously, exact
// subscribers first, then prefix wildcards from the most specific, then
// "*". Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("source", event.Source).
		Str("trace_id", event.TraceID).
		Int("handlers", len(matched)).
		Msg("event published")

	for _, h := range matched {
		if err := h(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("trace_id", event.TraceID).
				Msg("event handler error")
		}
	}
}

// PublishAsync delivers event on a new goroutine. The context is detached
// from the caller's cancellation.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.Publish(context.WithoutCancel(ctx), event)
	}()
}

// Drain waits for asynchronous deliveries to finish or ctx to end.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasSubscribers reports whether publishing name would reach any handler.
func (b *Bus) HasSubscribers(name string) bool {
	return len(b.match(name)) > 0
}

func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Handler
	add := func(pattern string) {
		for _, s := range b.handlers[pattern] {
			out = append(out, s.fn)
		}
	}

	add(name)
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i >= 1; i-- {
		add(strings.Join(parts[:i], ".") + ".*")
	}
	if name != "*" {
		add("*")
	}
	return out
}
