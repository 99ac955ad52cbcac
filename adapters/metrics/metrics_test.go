package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/adapters/metrics"
	"github.com/artpar/actionkit/core/audit"
)

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.InvocationsTotal == nil || m.AttemptsTotal == nil || m.AttemptDuration == nil {
		t.Error("invocation metrics not initialized")
	}
	if m.RetriesTotal == nil || m.GuardRejections == nil {
		t.Error("retry or guard metrics not initialized")
	}
	if m.RegistryReloads == nil || m.RegistryReloadErrors == nil {
		t.Error("reload metrics not initialized")
	}
}

func TestAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.Attempt("billing.charge", "http", audit.StatusError, 20*time.Millisecond)
	m.Attempt("billing.charge", "http", audit.StatusSuccess, 10*time.Millisecond)
	m.Attempt("billing.charge", "http", audit.StatusSuccess, 10*time.Millisecond)

	f := family(t, reg, "actionkit_attempts_total")
	if f == nil {
		t.Fatal("actionkit_attempts_total not found")
	}
	if len(f.GetMetric()) != 2 {
		t.Errorf("expected 2 series, got %d", len(f.GetMetric()))
	}
	var total float64
	for _, s := range f.GetMetric() {
		total += s.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("total attempts = %v, want 3", total)
	}

	h := family(t, reg, "actionkit_attempt_duration_seconds")
	if h == nil {
		t.Fatal("duration histogram not found")
	}
}

func TestRetryGuardInvocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.Retry("a")
	m.Retry("a")
	m.GuardRejected("b")
	m.Invocation("a", "cron", true)

	if f := family(t, reg, "actionkit_retries_total"); f == nil || f.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Errorf("retries = %v", f)
	}
	if f := family(t, reg, "actionkit_guard_rejections_total"); f == nil || f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("guard rejections = %v", f)
	}
	f := family(t, reg, "actionkit_invocations_total")
	if f == nil {
		t.Fatal("invocations not found")
	}
	labels := map[string]string{}
	for _, l := range f.GetMetric()[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["success"] != "true" || labels["trigger"] != "cron" {
		t.Errorf("labels = %v", labels)
	}
}

func TestInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.InFlight(1)
	m.InFlight(1)
	m.InFlight(-1)

	f := family(t, reg, "actionkit_invocations_in_flight")
	if f == nil || f.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Errorf("in flight = %v", f)
	}
}

func TestReloaded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.Reloaded(nil)
	m.Reloaded(errors.New("bad"))

	if f := family(t, reg, "actionkit_registry_reloads_total"); f == nil || f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("reloads = %v", f)
	}
	if f := family(t, reg, "actionkit_registry_reload_errors_total"); f == nil || f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("reload errors = %v", f)
	}
	if f := family(t, reg, "actionkit_registry_last_reload_timestamp"); f == nil || f.GetMetric()[0].GetGauge().GetValue() == 0 {
		t.Error("last reload timestamp not set")
	}
}

type nopWriter struct{}

func (nopWriter) Write(context.Context, []audit.RunEntry) error { return nil }

func TestWatchAuditDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	b := audit.NewBuffered(nopWriter{}, audit.DefaultBufferConfig(), zerolog.Nop())
	m.WatchAuditDrops(b)
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	b.PushRun(audit.RunEntry{ID: "late"})

	f := family(t, reg, "actionkit_audit_dropped_total")
	if f == nil || f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("dropped = %v, want 1", f)
	}
}
