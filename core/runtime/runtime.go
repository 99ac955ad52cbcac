// Package runtime executes registered actions: guards, the retry loop,
// nested calls and the audit trail.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/actionkit/adapters/clock"
	"github.com/artpar/actionkit/adapters/idgen"
	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/audit"
	"github.com/artpar/actionkit/core/events"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/retry"
	"github.com/artpar/actionkit/core/trigger"
)

const tracerName = "github.com/artpar/actionkit/core/runtime"

// Lookup resolves action keys for nested calls and introspection.
type Lookup interface {
	Get(key string) (*registry.RegisteredAction, bool)
	Describe() []action.Descriptor
}

// Clock supplies time and the backoff sleep.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces trace and run IDs.
type IDGenerator interface {
	New() string
}

// Metrics observes executions.
type Metrics interface {
	Attempt(action, trigger string, status audit.Status, d time.Duration)
	Retry(action string)
	GuardRejected(action string)
	Invocation(action, trigger string, success bool)
	InFlight(delta int)
}

type nopMetrics struct{}

func (nopMetrics) Attempt(string, string, audit.Status, time.Duration) {}
func (nopMetrics) Retry(string)                                         {}
func (nopMetrics) GuardRejected(string)                                 {}
func (nopMetrics) Invocation(string, string, bool)                      {}
func (nopMetrics) InFlight(int)                                         {}

// Options carries the trigger context of one invocation.
type Options struct {
	Trigger  trigger.Type
	Request  *http.Request
	Auth     *action.Identity
	Response action.ResponseSink
}

// Result is the outcome of Execute. Exactly one of Data or Error is
// meaningful, selected by Success.
type Result struct {
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Meta     *action.Meta `json:"-"`
	Error    string       `json:"error,omitempty"`
	Err      error        `json:"-"`
	TraceID  string       `json:"trace_id"`
	Attempts int          `json:"attempts"`
}

// Executor runs actions.
type Executor struct {
	lookup          Lookup
	bus             *events.Bus
	sink            audit.Sink
	metrics         Metrics
	logger          zerolog.Logger
	tracer          trace.Tracer
	clock           Clock
	ids             IDGenerator
	defaultRetry    atomic.Pointer[retry.Config]
	capturePayloads bool
}

// Option configures an Executor.
type Option func(*Executor)

func WithBus(b *events.Bus) Option       { return func(e *Executor) { e.bus = b } }
func WithSink(s audit.Sink) Option       { return func(e *Executor) { e.sink = s } }
func WithMetrics(m Metrics) Option       { return func(e *Executor) { e.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(e *Executor) { e.logger = l } }
func WithTracer(t trace.Tracer) Option   { return func(e *Executor) { e.tracer = t } }
func WithClock(c Clock) Option           { return func(e *Executor) { e.clock = c } }
func WithIDs(g IDGenerator) Option       { return func(e *Executor) { e.ids = g } }

// WithDefaultRetry sets the policy for actions that declare none.
func WithDefaultRetry(c retry.Config) Option {
	return func(e *Executor) { e.SetDefaultRetry(c) }
}

// WithoutAuditPayloads keeps input and output out of run entries.
func WithoutAuditPayloads() Option {
	return func(e *Executor) { e.capturePayloads = false }
}

// New creates an executor over lookup.
func New(lookup Lookup, opts ...Option) *Executor {
	e := &Executor{
		lookup:          lookup,
		sink:            audit.Nop{},
		metrics:         nopMetrics{},
		logger:          zerolog.Nop(),
		tracer:          otel.Tracer(tracerName),
		clock:           clock.Real{},
		ids:             idgen.UUID{},
		capturePayloads: true,
	}
	e.SetDefaultRetry(retry.Config{})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetDefaultRetry replaces the policy for actions that declare none.
// Invocations already running keep the policy they started with.
func (e *Executor) SetDefaultRetry(c retry.Config) {
	c = c.Normalize()
	e.defaultRetry.Store(&c)
}

// invocation is the state shared by a root call and its nested calls.
type invocation struct {
	traceID string
	chain   []string
	opts    Options
}

// Execute runs ra with input. It never panics; every failure is reported
// in the Result.
func (e *Executor) Execute(ctx context.Context, ra *registry.RegisteredAction, input any, opts Options) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Trigger == "" {
		opts.Trigger = trigger.Manual
	}
	inv := invocation{traceID: e.ids.New(), opts: opts}

	if ra == nil {
		err := failure.NotFound("action not found")
		return Result{Error: err.Error(), Err: err, TraceID: inv.traceID}
	}

	data, meta, attempts, err := e.run(ctx, inv, ra, input)
	e.metrics.Invocation(ra.Key, string(opts.Trigger), err == nil)
	if err != nil {
		return Result{Error: err.Error(), Err: err, TraceID: inv.traceID, Attempts: attempts}
	}
	return Result{Success: true, Data: data, Meta: meta, TraceID: inv.traceID, Attempts: attempts}
}

// ExecuteKey looks up key and executes it.
func (e *Executor) ExecuteKey(ctx context.Context, key string, input any, opts Options) Result {
	ra, ok := e.lookup.Get(key)
	if !ok {
		err := failure.NotFound(fmt.Sprintf("action %q not found", key))
		return Result{Error: err.Error(), Err: err, TraceID: e.ids.New()}
	}
	return e.Execute(ctx, ra, input, opts)
}

func (e *Executor) run(ctx context.Context, inv invocation, ra *registry.RegisteredAction, input any) (any, *action.Meta, int, error) {
	chain := append(slices.Clone(inv.chain), ra.Key)
	policy, ok := ra.Definition.Retry()
	if !ok {
		policy = *e.defaultRetry.Load()
	}

	ctx, span := e.tracer.Start(ctx, "action "+ra.Key,
		trace.WithAttributes(
			attribute.String("action.key", ra.Key),
			attribute.String("action.module", ra.Module),
			attribute.String("action.trigger", string(inv.opts.Trigger)),
			attribute.String("action.trace_id", inv.traceID),
		),
	)
	defer span.End()

	e.metrics.InFlight(1)
	defer e.metrics.InFlight(-1)

	logger := e.logger.With().
		Str("trace_id", inv.traceID).
		Str("action", ra.Key).
		Str("trigger", string(inv.opts.Trigger)).
		Logger()

	actx := &action.Context{
		Context:  ctx,
		Key:      ra.Key,
		TraceID:  inv.traceID,
		Retry:    action.RetryInfo{Attempt: 1, MaxAttempts: policy.MaxAttempts},
		Auth:     inv.opts.Auth,
		Trigger:  inv.opts.Trigger,
		Request:  inv.opts.Request,
		Response: inv.opts.Response,
		Registry: e.lookup,
		Logger:   logger,
	}
	actx.Emitter = func(name string, payload any) {
		e.emit(ctx, ra.Key, inv.traceID, name, payload)
	}
	actx.Caller = func(key string, in any) (any, error) {
		nested := inv
		nested.chain = chain
		nested.opts.Trigger = trigger.Internal
		nested.opts.Auth = actx.Auth
		return e.call(ctx, nested, key, in)
	}

	if err := ra.Guards.Run(actx); err != nil {
		e.metrics.GuardRejected(ra.Key)
		logger.Debug().Err(err).Msg("guard rejected invocation")
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, 0, err
	}

	var deadline time.Time
	if policy.Deadline > 0 {
		deadline = e.clock.Now().Add(policy.Deadline)
	}

	for attempt := 1; ; attempt++ {
		actx.Retry.Attempt = attempt
		started := e.clock.Now()
		out, err := e.invoke(actx, ra, input)
		elapsed := e.clock.Now().Sub(started)

		if err == nil {
			data, meta := action.Split(out)
			e.record(ra, inv, input, data, nil, attempt, started, elapsed)
			span.SetAttributes(attribute.Int("action.attempts", attempt))
			logger.Debug().Int("attempt", attempt).Dur("duration", elapsed).Msg("action succeeded")
			return data, meta, attempt, nil
		}

		e.record(ra, inv, input, nil, err, attempt, started, elapsed)
		span.RecordError(err)

		if !policy.ShouldRetry(err, attempt) {
			return e.fail(span, logger, attempt, err)
		}
		delay := retry.Delay(policy, attempt)
		if !deadline.IsZero() && e.clock.Now().Add(delay).After(deadline) {
			logger.Warn().Int("attempt", attempt).Msg("retry deadline reached")
			return e.fail(span, logger, attempt, err)
		}

		e.metrics.Retry(ra.Key)
		logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying action")
		if serr := e.clock.Sleep(ctx, delay); serr != nil {
			logger.Debug().Err(serr).Msg("backoff interrupted")
			return e.fail(span, logger, attempt, err)
		}
	}
}

func (e *Executor) fail(span trace.Span, logger zerolog.Logger, attempt int, err error) (any, *action.Meta, int, error) {
	span.SetAttributes(attribute.Int("action.attempts", attempt))
	span.SetStatus(codes.Error, err.Error())
	ev := logger.Warn()
	if failure.KindOf(err) == failure.KindPanic {
		ev = logger.Error()
	}
	ev.Err(err).Int("attempts", attempt).Msg("action failed")
	return nil, nil, attempt, err
}

// invoke runs the wrapped handler, converting panics into failures.
func (e *Executor) invoke(actx *action.Context, ra *registry.RegisteredAction, input any) (out any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = failure.Panic(v)
		}
	}()
	return ra.Definition.Invoke(actx, input)
}

// call runs a nested action inside the caller's trace.
func (e *Executor) call(ctx context.Context, inv invocation, key string, input any) (any, error) {
	if slices.Contains(inv.chain, key) {
		return nil, failure.Circular(append(slices.Clone(inv.chain), key))
	}
	target, ok := e.lookup.Get(key)
	if !ok {
		return nil, failure.NotFound(fmt.Sprintf("action %q not found", key))
	}
	data, _, _, err := e.run(ctx, inv, target, input)
	return data, err
}

func (e *Executor) emit(ctx context.Context, source, traceID, name string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.PublishAsync(ctx, events.Event{
		Name:    name,
		Source:  source,
		TraceID: traceID,
		Payload: payload,
		At:      e.clock.Now().UTC(),
	})
}

func (e *Executor) record(ra *registry.RegisteredAction, inv invocation, input, output any, err error, attempt int, started time.Time, elapsed time.Duration) {
	entry := audit.RunEntry{
		ID:          e.ids.New(),
		ActionName:  ra.Key,
		ModuleName:  ra.Module,
		TraceID:     inv.traceID,
		TriggerType: string(inv.opts.Trigger),
		Status:      audit.StatusSuccess,
		DurationMs:  elapsed.Milliseconds(),
		StartedAt:   started,
		Attempt:     attempt,
	}
	if e.capturePayloads {
		entry.Input = input
		entry.Output = output
	}
	if err != nil {
		entry.Status = audit.StatusError
		entry.Error = err.Error()
	}
	e.sink.PushRun(entry)
	e.metrics.Attempt(ra.Key, entry.TriggerType, entry.Status, elapsed)
}
