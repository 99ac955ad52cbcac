package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/artpar/actionkit/adapters/clock"
)

func TestReal_Sleep(t *testing.T) {
	start := time.Now()
	if err := (clock.Real{}).Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Sleep returned early")
	}
}

func TestReal_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := (clock.Real{}).Sleep(ctx, time.Hour); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep should return immediately")
	}
}

func TestFake(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := clock.NewFake(base)

	f.Advance(time.Minute)
	if !f.Now().Equal(base.Add(time.Minute)) {
		t.Errorf("Now() = %v", f.Now())
	}

	_ = f.Sleep(context.Background(), time.Second)
	_ = f.Sleep(context.Background(), 2*time.Second)
	if got := f.Sleeps(); len(got) != 2 || got[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v", got)
	}
	if !f.Now().Equal(base.Add(time.Minute + 3*time.Second)) {
		t.Errorf("Now() = %v after sleeps", f.Now())
	}

	f.Set(base)
	if !f.Now().Equal(base) {
		t.Error("Set did not apply")
	}
}
