// Package event runs actions when matching events are published on the bus.
package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/events"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/trigger"
)

// Channel subscribes event triggers to the bus.
type Channel struct {
	exec   channel.Executor
	bus    *events.Bus
	logger zerolog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// New creates an event channel on bus.
func New(exec channel.Executor, bus *events.Bus, logger zerolog.Logger) *Channel {
	return &Channel{exec: exec, bus: bus, logger: logger}
}

func (c *Channel) Name() string {
	return "event"
}

// Register subscribes ra to every event pattern it declares.
func (c *Channel) Register(ra *registry.RegisteredAction) error {
	for _, tr := range ra.Triggers {
		if tr.Type != trigger.Event {
			continue
		}
		if tr.Event == "" {
			return fmt.Errorf("action %q: event trigger without event name", ra.Key)
		}
		unsub := c.bus.Subscribe(tr.Event, c.handler(ra))

		c.mu.Lock()
		c.unsubs = append(c.unsubs, unsub)
		c.mu.Unlock()

		c.logger.Debug().Str("event", tr.Event).Str("action", ra.Key).Msg("event trigger subscribed")
	}
	return nil
}

// handler passes object payloads through as the action input. Other payloads
// are wrapped as {"event": name, "payload": value}.
func (c *Channel) handler(ra *registry.RegisteredAction) events.Handler {
	return func(ctx context.Context, ev events.Event) error {
		var input any = ev.Payload
		if _, ok := ev.Payload.(map[string]any); !ok {
			input = map[string]any{"event": ev.Name, "payload": ev.Payload}
		}

		res := c.exec.Execute(ctx, ra, input, runtime.Options{Trigger: trigger.Event})
		if !res.Success {
			return fmt.Errorf("%s on %s: %w", ra.Key, ev.Name, res.Err)
		}

		if res.Meta != nil && res.Meta.Event != nil {
			for _, em := range res.Meta.Event.Emit {
				c.bus.PublishAsync(ctx, events.Event{
					Name:    em.Name,
					Source:  ra.Key,
					TraceID: res.TraceID,
					Payload: em.Payload,
				})
			}
		}
		return nil
	}
}

// Reset drops every subscription before a remount.
func (c *Channel) Reset() {
	c.Close()
}

// Close removes every subscription made by the channel.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
}
