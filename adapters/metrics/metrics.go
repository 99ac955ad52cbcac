// Package metrics provides Prometheus metrics for action execution.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/actionkit/core/audit"
	"github.com/artpar/actionkit/core/runtime"
)

const namespace = "actionkit"

// Collector holds all Prometheus metrics.
type Collector struct {
	// Invocation metrics
	InvocationsTotal *prometheus.CounterVec
	InFlightGauge    prometheus.Gauge

	// Attempt metrics
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec

	// Guard metrics
	GuardRejections *prometheus.CounterVec

	// Registry metrics
	RegistryReloads      prometheus.Counter
	RegistryReloadErrors prometheus.Counter
	RegistryLastReload   prometheus.Gauge

	factory promauto.Factory
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on reg. Tests use a fresh registry
// to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of action invocations by outcome",
			},
			[]string{"action", "trigger", "success"},
		),
		InFlightGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invocations_in_flight",
				Help:      "Number of invocations currently executing, nested calls included",
			},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of handler attempts",
			},
			[]string{"action", "trigger", "status"},
		),
		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Handler attempt duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"action", "status"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of scheduled retries",
			},
			[]string{"action"},
		),
		GuardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_rejections_total",
				Help:      "Total number of invocations rejected by guards",
			},
			[]string{"action"},
		),
		RegistryReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_reloads_total",
				Help:      "Total number of committed registry reloads",
			},
		),
		RegistryReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_reload_errors_total",
				Help:      "Total number of rolled back registry reloads",
			},
		),
		RegistryLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_last_reload_timestamp",
				Help:      "Unix timestamp of the last committed registry reload",
			},
		),
		factory: factory,
	}
}

func (c *Collector) Attempt(action, trigger string, status audit.Status, d time.Duration) {
	c.AttemptsTotal.WithLabelValues(action, trigger, string(status)).Inc()
	c.AttemptDuration.WithLabelValues(action, string(status)).Observe(d.Seconds())
}

func (c *Collector) Retry(action string) {
	c.RetriesTotal.WithLabelValues(action).Inc()
}

func (c *Collector) GuardRejected(action string) {
	c.GuardRejections.WithLabelValues(action).Inc()
}

func (c *Collector) Invocation(action, trigger string, success bool) {
	c.InvocationsTotal.WithLabelValues(action, trigger, strconv.FormatBool(success)).Inc()
}

func (c *Collector) InFlight(delta int) {
	c.InFlightGauge.Add(float64(delta))
}

// Reloaded records a registry reload attempt. It matches the reload
// package's OnReload callback.
func (c *Collector) Reloaded(err error) {
	if err != nil {
		c.RegistryReloadErrors.Inc()
		return
	}
	c.RegistryReloads.Inc()
	c.RegistryLastReload.SetToCurrentTime()
}

// WatchAuditDrops exports the number of run entries a buffered sink had to
// drop.
func (c *Collector) WatchAuditDrops(b *audit.Buffered) {
	c.factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Total number of run entries dropped because the audit buffer was full",
		},
		func() float64 { return float64(b.Dropped()) },
	)
}

var _ runtime.Metrics = (*Collector)(nil)
