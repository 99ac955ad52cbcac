// Package guard composes and runs action guards.
//
// Guards are grouped into phases. A module's phase always runs before an
// action's phase. Within a phase guards run either in order, stopping at
// the first rejection, or all at once, failing on the first rejection.
// Parallel guards that are still running when a sibling rejects are not
// cancelled and their side effects are not undone.
//
// Only sequential guards can enrich the invocation context. Each parallel
// guard receives its own shallow copy, and nothing it sets on the copy is
// merged back.
package guard

import (
	"golang.org/x/sync/errgroup"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/failure"
)

// Sequential builds a spec whose guards run in order.
func Sequential(guards ...action.Guard) action.GuardSpec {
	return action.GuardSpec{Mode: action.GuardSequential, Guards: guards}
}

// Parallel builds a spec whose guards run concurrently. Each guard gets a
// private copy of the context; pointers such as Auth are still shared and
// must be treated as read-only.
func Parallel(guards ...action.Guard) action.GuardSpec {
	return action.GuardSpec{Mode: action.GuardParallel, Guards: guards}
}

// Normalize copies spec, drops nil guards and maps unknown modes to
// sequential.
func Normalize(spec action.GuardSpec) action.GuardSpec {
	out := action.GuardSpec{Mode: spec.Mode}
	if out.Mode != action.GuardParallel {
		out.Mode = action.GuardSequential
	}
	for _, g := range spec.Guards {
		if g != nil {
			out.Guards = append(out.Guards, g)
		}
	}
	return out
}

// Plan is an ordered list of guard phases.
type Plan struct {
	phases []action.GuardSpec
}

// NewPlan normalizes specs into a plan, skipping empty ones.
func NewPlan(specs ...action.GuardSpec) Plan {
	var p Plan
	for _, s := range specs {
		s = Normalize(s)
		if !s.Empty() {
			p.phases = append(p.phases, s)
		}
	}
	return p
}

// Merge builds the plan for a module action: module guards first, then the
// action's own, each phase keeping its mode.
func Merge(module, act action.GuardSpec) Plan {
	return NewPlan(module, act)
}

// Phases returns a copy of the plan's phases.
func (p Plan) Phases() []action.GuardSpec {
	out := make([]action.GuardSpec, len(p.phases))
	copy(out, p.phases)
	return out
}

// Len is the total number of guards.
func (p Plan) Len() int {
	n := 0
	for _, ph := range p.phases {
		n += len(ph.Guards)
	}
	return n
}

func (p Plan) Empty() bool {
	return len(p.phases) == 0
}

// Run executes every phase in order. The returned error is always a guard
// failure.
func (p Plan) Run(ctx *action.Context) error {
	for _, ph := range p.phases {
		var err error
		if ph.Mode == action.GuardParallel {
			err = runParallel(ctx, ph.Guards)
		} else {
			err = runSequential(ctx, ph.Guards)
		}
		if err != nil {
			return failure.AsGuard(err)
		}
	}
	return nil
}

// Run executes a single spec.
func Run(ctx *action.Context, spec action.GuardSpec) error {
	return NewPlan(spec).Run(ctx)
}

func runSequential(ctx *action.Context, guards []action.Guard) error {
	for _, g := range guards {
		if err := call(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func runParallel(ctx *action.Context, guards []action.Guard) error {
	// Copy before any goroutine starts: a straggler must not read ctx after
	// the phase has returned.
	copies := make([]action.Context, len(guards))
	for i := range copies {
		copies[i] = *ctx
	}
	if len(guards) == 1 {
		return call(&copies[0], guards[0])
	}

	var g errgroup.Group
	first := make(chan error, 1)
	for i, fn := range guards {
		gctx := &copies[i]
		g.Go(func() error {
			err := call(gctx, fn)
			if err != nil {
				select {
				case first <- err:
				default:
				}
			}
			return err
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case err := <-first:
		return err
	case <-done:
		select {
		case err := <-first:
			return err
		default:
			return nil
		}
	}
}

func call(ctx *action.Context, g action.Guard) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = failure.Panic(v)
		}
	}()
	return g(ctx)
}
