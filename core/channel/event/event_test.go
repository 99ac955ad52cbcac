package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/audit"
	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/channel/event"
	"github.com/artpar/actionkit/core/events"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/trigger"
)

func TestChannel_RunsSubscribedAction(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	reg := registry.New()
	got := make(chan any, 1)
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "welcome",
		Triggers: []trigger.Config{trigger.On("user.*")},
	}, func(ctx *action.Context, input any) (any, error) {
		if ctx.Trigger != trigger.Event {
			t.Errorf("trigger = %q", ctx.Trigger)
		}
		got <- input
		return nil, nil
	}))

	ch := event.New(runtime.New(reg), bus, zerolog.Nop())
	if err := channel.Mount(reg, ch); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	bus.Publish(context.Background(), events.Event{Name: "user.created", Payload: map[string]any{"id": "u1"}})

	select {
	case in := <-got:
		m := in.(map[string]any)
		if m["id"] != "u1" {
			t.Errorf("input = %v", m)
		}
	default:
		t.Fatal("action did not run")
	}
}

func TestChannel_WrapsScalarPayload(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	reg := registry.New()
	var got map[string]any
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "count",
		Triggers: []trigger.Config{trigger.On("tick")},
	}, func(ctx *action.Context, input any) (any, error) {
		got = input.(map[string]any)
		return nil, nil
	}))
	ch := event.New(runtime.New(reg), bus, zerolog.Nop())
	_ = channel.Mount(reg, ch)

	bus.Publish(context.Background(), events.Event{Name: "tick", Payload: 7})

	if got["event"] != "tick" || got["payload"] != 7 {
		t.Errorf("input = %v", got)
	}
}

func TestChannel_PublishesMetaEmissions(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	reg := registry.New()
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "charge",
		Triggers: []trigger.Config{trigger.On("order.placed")},
	}, func(ctx *action.Context, input any) (any, error) {
		return ctx.WithMeta(nil, action.Meta{Event: &action.EventMeta{
			Emit: []action.Emission{{Name: "payment.captured", Payload: map[string]any{"amount": 10}}},
		}}), nil
	}))
	ch := event.New(runtime.New(reg), bus, zerolog.Nop())
	_ = channel.Mount(reg, ch)

	captured := make(chan events.Event, 1)
	bus.Subscribe("payment.captured", func(_ context.Context, e events.Event) error {
		captured <- e
		return nil
	})

	bus.Publish(context.Background(), events.Event{Name: "order.placed", Payload: map[string]any{}})

	select {
	case e := <-captured:
		if e.Source != "charge" || e.TraceID == "" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("emission not published")
	}
}

func TestChannel_FailureIsLoggedAndAudited(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	reg := registry.New()
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "fragile",
		Triggers: []trigger.Config{trigger.On("x")},
	}, func(*action.Context, any) (any, error) { return nil, errors.New("nope") }))
	sink := audit.NewMemory()
	ch := event.New(runtime.New(reg, runtime.WithSink(sink)), bus, zerolog.Nop())
	_ = channel.Mount(reg, ch)

	bus.Publish(context.Background(), events.Event{Name: "x", Payload: map[string]any{}})

	entries := sink.Entries()
	if len(entries) != 1 || entries[0].Status != audit.StatusError || entries[0].TriggerType != "event" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestChannel_Close(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	reg := registry.New()
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "a",
		Triggers: []trigger.Config{trigger.On("e")},
	}, func(*action.Context, any) (any, error) { return nil, nil }))
	ch := event.New(runtime.New(reg), bus, zerolog.Nop())
	_ = channel.Mount(reg, ch)

	if !bus.HasSubscribers("e") {
		t.Fatal("expected subscription")
	}
	ch.Close()
	if bus.HasSubscribers("e") {
		t.Error("Close should unsubscribe")
	}
}

func TestChannel_RejectsEmptyEvent(t *testing.T) {
	reg := registry.New()
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "a",
		Triggers: []trigger.Config{{Type: trigger.Event}},
	}, func(*action.Context, any) (any, error) { return nil, nil }))
	ch := event.New(runtime.New(reg), events.NewBus(zerolog.Nop()), zerolog.Nop())
	if err := channel.Mount(reg, ch); err == nil {
		t.Error("expected error for event trigger without a name")
	}
}
