// Package cron maps scheduled invocations onto scheduler decisions. The
// scheduler owns timing; it asks the Dispatcher to run a job and acts on
// the returned Decision.
package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/retry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/trigger"
)

// Decision tells the scheduler what to do after a run.
type Decision string

const (
	Done       Decision = "done"
	Skipped    Decision = "skipped"
	Retry      Decision = "retry"
	DeadLetter Decision = "dead-letter"
)

// Job is one scheduled action.
type Job struct {
	Action   string `json:"action"`
	Schedule string `json:"schedule"`
}

// Outcome is the result of one scheduled run.
type Outcome struct {
	Decision Decision `json:"decision"`
	TraceID  string   `json:"trace_id"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// Dispatcher runs cron triggered actions.
type Dispatcher struct {
	exec       channel.Executor
	logger     zerolog.Logger
	deadLetter func(Job, Outcome)

	mu   sync.RWMutex
	jobs map[string]job
}

type job struct {
	Job
	ra *registry.RegisteredAction
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDeadLetter receives every run that ends in DeadLetter.
func WithDeadLetter(fn func(Job, Outcome)) Option {
	return func(d *Dispatcher) { d.deadLetter = fn }
}

// New creates a dispatcher.
func New(exec channel.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		exec:   exec,
		logger: zerolog.Nop(),
		jobs:   make(map[string]job),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Name() string {
	return "cron"
}

// Register adds a job for every cron trigger of ra. Jobs are keyed by
// action and schedule.
func (d *Dispatcher) Register(ra *registry.RegisteredAction) error {
	for _, tr := range ra.Triggers {
		if tr.Type != trigger.Cron {
			continue
		}
		if err := ValidateSchedule(tr.Schedule); err != nil {
			return fmt.Errorf("action %q: %w", ra.Key, err)
		}
		j := Job{Action: ra.Key, Schedule: tr.Schedule}
		d.mu.Lock()
		d.jobs[jobID(j)] = job{Job: j, ra: ra}
		d.mu.Unlock()
		d.logger.Debug().Str("action", ra.Key).Str("schedule", tr.Schedule).Msg("cron job registered")
	}
	return nil
}

// Reset forgets every job before a remount.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.jobs = make(map[string]job)
	d.mu.Unlock()
}

// Jobs lists registered jobs sorted by action.
func (d *Dispatcher) Jobs() []Job {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Job, 0, len(d.jobs))
	for _, j := range d.jobs {
		out = append(out, j.Job)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Action != out[k].Action {
			return out[i].Action < out[k].Action
		}
		return out[i].Schedule < out[k].Schedule
	})
	return out
}

// Run executes the job for action key. When the action has several
// schedules the first in sort order is used for reporting.
func (d *Dispatcher) Run(ctx context.Context, key string) (Outcome, error) {
	d.mu.RLock()
	var found *job
	for id, j := range d.jobs {
		if j.Action == key && (found == nil || id < jobID(found.Job)) {
			jj := j
			found = &jj
		}
	}
	d.mu.RUnlock()
	if found == nil {
		return Outcome{}, fmt.Errorf("no cron job for action %q", key)
	}
	return d.run(ctx, *found), nil
}

// RunAll executes every job once, in Jobs order.
func (d *Dispatcher) RunAll(ctx context.Context) map[string]Outcome {
	out := make(map[string]Outcome)
	for _, j := range d.Jobs() {
		d.mu.RLock()
		entry := d.jobs[jobID(j)]
		d.mu.RUnlock()
		out[jobID(j)] = d.run(ctx, entry)
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, j job) Outcome {
	res := d.exec.Execute(ctx, j.ra, map[string]any{}, runtime.Options{Trigger: trigger.Cron})
	o := Decide(res)

	ev := d.logger.Info()
	if o.Decision == DeadLetter || o.Decision == Retry {
		ev = d.logger.Warn()
	}
	ev.Str("action", j.Action).
		Str("schedule", j.Schedule).
		Str("decision", string(o.Decision)).
		Str("trace_id", o.TraceID).
		Msg("cron run finished")

	if o.Decision == DeadLetter && d.deadLetter != nil {
		d.deadLetter(j.Job, o)
	}
	return o
}

// Decide maps an execution result onto a scheduler decision. Failures that
// the retry classifier considers transient are retried by the scheduler;
// everything else goes to the dead letter queue.
func Decide(res runtime.Result) Outcome {
	o := Outcome{TraceID: res.TraceID, Attempts: res.Attempts}
	if !res.Success {
		o.Error = res.Error
		if retry.Retryable(res.Err) {
			o.Decision = Retry
		} else {
			o.Decision = DeadLetter
		}
		if failure.KindOf(res.Err) == failure.KindGuard {
			o.Note = "rejected by guard"
		}
		return o
	}
	o.Decision = Done
	if res.Meta != nil && res.Meta.Cron != nil {
		o.Note = res.Meta.Cron.Note
		if res.Meta.Cron.Skip {
			o.Decision = Skipped
		}
	}
	return o
}

// ValidateSchedule checks that expr is a five or six field cron expression
// or a descriptor such as "@daily" or "@every 5m".
func ValidateSchedule(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("empty cron schedule")
	}
	if strings.HasPrefix(expr, "@") {
		switch {
		case strings.HasPrefix(expr, "@every "):
			return nil
		case expr == "@yearly", expr == "@annually", expr == "@monthly",
			expr == "@weekly", expr == "@daily", expr == "@midnight", expr == "@hourly":
			return nil
		}
		return fmt.Errorf("unknown cron descriptor %q", expr)
	}
	if n := len(strings.Fields(expr)); n != 5 && n != 6 {
		return fmt.Errorf("cron schedule %q has %d fields, want 5 or 6", expr, n)
	}
	return nil
}

func jobID(j Job) string {
	return j.Action + "@" + j.Schedule
}
