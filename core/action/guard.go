package action

// Guard authorizes an invocation. A non-nil error rejects it.
// Sequential guards may enrich the context, for example by setting Auth.
// Parallel guards run on private copies and cannot.
type Guard func(ctx *Context) error

// GuardMode selects how the guards of one spec run.
type GuardMode int

const (
	// GuardSequential runs guards in order and stops at the first error.
	// It is the zero value, so a bare list of guards is sequential.
	GuardSequential GuardMode = iota
	// GuardParallel starts every guard at once and fails on the first error.
	GuardParallel
)

func (m GuardMode) String() string {
	if m == GuardParallel {
		return "parallel"
	}
	return "sequential"
}

// GuardSpec is a list of guards with an execution mode.
type GuardSpec struct {
	Mode   GuardMode
	Guards []Guard
}

// Empty reports whether the spec has no guards.
func (s GuardSpec) Empty() bool {
	return len(s.Guards) == 0
}
