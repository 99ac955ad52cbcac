// Package registry holds the registered actions and their lifecycle.
//
// The registry starts in Loading, where actions and modules may be added.
// Lock moves it to Locked for good. A development reload moves Loading to
// Reloading, where new registrations go to a staging set while readers keep
// seeing the previous catalog, and CommitReload or RollbackReload returns it
// to Loading.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/guard"
	"github.com/artpar/actionkit/core/trigger"
)

// State is the registry lifecycle state.
type State int

const (
	StateLoading State = iota
	StateLocked
	StateReloading
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateReloading:
		return "reloading"
	default:
		return "loading"
	}
}

var (
	ErrLocked           = errors.New("registry is locked")
	ErrReloadInProgress = errors.New("registry reload already in progress")
	ErrNotReloading     = errors.New("registry is not reloading")
	ErrNoSnapshot       = errors.New("registry has no reload snapshot")
	ErrNilDefinition    = errors.New("action definition is nil")
	ErrModuleName       = errors.New("module name is required")
)

// DuplicateError is returned when a key is already taken.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("action %q already registered", e.Key)
}

// RegisteredAction is an action bound to its key, module, merged guards and
// effective triggers.
type RegisteredAction struct {
	Definition *action.Definition
	Module     string
	Key        string
	Guards     guard.Plan
	Triggers   []trigger.Config
}

func (ra *RegisteredAction) Name() string {
	return ra.Definition.Name()
}

// Describe returns the read-only view of ra.
func (ra *RegisteredAction) Describe() action.Descriptor {
	return action.Descriptor{
		Key:         ra.Key,
		Module:      ra.Module,
		Name:        ra.Definition.Name(),
		Description: ra.Definition.Description(),
		Triggers:    append([]trigger.Config(nil), ra.Triggers...),
	}
}

// Binding pairs an action with one of its triggers.
type Binding struct {
	Action  *RegisteredAction
	Trigger trigger.Config
}

// catalog is an immutable key to action map once published.
type catalog struct {
	actions map[string]*RegisteredAction
}

func newCatalog() *catalog {
	return &catalog{actions: make(map[string]*RegisteredAction)}
}

func (c *catalog) clone() *catalog {
	out := &catalog{actions: make(map[string]*RegisteredAction, len(c.actions)+1)}
	for k, v := range c.actions {
		out.actions[k] = v
	}
	return out
}

// Registry stores registered actions. Reads never block on writers.
type Registry struct {
	mu       sync.Mutex
	state    State
	live     atomic.Pointer[catalog]
	staging  *catalog
	snapshot *catalog
	logger   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty registry in the Loading state.
func New(opts ...Option) *Registry {
	r := &Registry{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.live.Store(newCatalog())
	return r
}

// RegisterAction adds a standalone action under its bare name.
func (r *Registry) RegisterAction(def *action.Definition) error {
	if def == nil {
		return ErrNilDefinition
	}
	ra := &RegisteredAction{
		Definition: def,
		Key:        def.Name(),
		Guards:     guard.NewPlan(def.Guards()),
		Triggers:   def.Triggers(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insert(ra); err != nil {
		return fmt.Errorf("register action %q: %w", def.Name(), err)
	}
	r.logger.Debug().Str("action", ra.Key).Msg("action registered")
	return nil
}

// RegisterModule adds every action of mod as "module.action". Either all
// actions are registered or none are.
func (r *Registry) RegisterModule(mod action.Module) error {
	if mod.Name == "" {
		return ErrModuleName
	}
	entries := make([]*RegisteredAction, 0, len(mod.Actions))
	for _, def := range mod.Actions {
		if def == nil {
			return fmt.Errorf("register module %q: %w", mod.Name, ErrNilDefinition)
		}
		trs := def.Triggers()
		for i := range trs {
			trs[i] = trs[i].WithPrefix(mod.Prefix)
		}
		entries = append(entries, &RegisteredAction{
			Definition: def,
			Module:     mod.Name,
			Key:        mod.Name + "." + def.Name(),
			Guards:     guard.Merge(mod.Guards, def.Guards()),
			Triggers:   trs,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insert(entries...); err != nil {
		return fmt.Errorf("register module %q: %w", mod.Name, err)
	}
	r.logger.Debug().Str("module", mod.Name).Int("actions", len(entries)).Msg("module registered")
	return nil
}

// insert adds entries to the writable set. Callers hold r.mu.
func (r *Registry) insert(entries ...*RegisteredAction) error {
	if r.state == StateLocked {
		return ErrLocked
	}

	var target *catalog
	if r.state == StateReloading {
		target = r.staging
	} else {
		target = r.live.Load()
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := target.actions[e.Key]; dup {
			return &DuplicateError{Key: e.Key}
		}
		if _, dup := seen[e.Key]; dup {
			return &DuplicateError{Key: e.Key}
		}
		seen[e.Key] = struct{}{}
	}

	if r.state == StateReloading {
		for _, e := range entries {
			target.actions[e.Key] = e
		}
		return nil
	}

	next := target.clone()
	for _, e := range entries {
		next.actions[e.Key] = e
	}
	r.live.Store(next)
	return nil
}

// Lock freezes the registry. Locking a locked registry is a no-op.
// A registry in the middle of a reload cannot be locked.
func (r *Registry) Lock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateLocked:
		return nil
	case StateReloading:
		return ErrReloadInProgress
	}
	r.state = StateLocked
	r.logger.Info().Int("actions", len(r.live.Load().actions)).Msg("registry locked")
	return nil
}

// BeginReload snapshots the live catalog and opens an empty staging set.
func (r *Registry) BeginReload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateLocked:
		return ErrLocked
	case StateReloading:
		return ErrReloadInProgress
	}
	r.snapshot = r.live.Load()
	r.staging = newCatalog()
	r.state = StateReloading
	r.logger.Debug().Msg("registry reload started")
	return nil
}

// CommitReload publishes the staging set.
func (r *Registry) CommitReload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReloading {
		return ErrNotReloading
	}
	r.live.Store(r.staging)
	n := len(r.staging.actions)
	r.staging, r.snapshot = nil, nil
	r.state = StateLoading
	r.logger.Info().Int("actions", n).Msg("registry reload committed")
	return nil
}

// RollbackReload discards the staging set and restores the snapshot.
func (r *Registry) RollbackReload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReloading {
		return ErrNotReloading
	}
	if r.snapshot == nil {
		return ErrNoSnapshot
	}
	r.live.Store(r.snapshot)
	r.staging, r.snapshot = nil, nil
	r.state = StateLoading
	r.logger.Warn().Msg("registry reload rolled back")
	return nil
}

// State returns the lifecycle state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Get returns the action registered under key.
func (r *Registry) Get(key string) (*RegisteredAction, bool) {
	ra, ok := r.live.Load().actions[key]
	return ra, ok
}

// All returns every action sorted by key.
func (r *Registry) All() []*RegisteredAction {
	c := r.live.Load()
	out := make([]*RegisteredAction, 0, len(c.actions))
	for _, ra := range c.actions {
		out = append(out, ra)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of live actions.
func (r *Registry) Len() int {
	return len(r.live.Load().actions)
}

// Describe lists the live actions for introspection.
func (r *Registry) Describe() []action.Descriptor {
	all := r.All()
	out := make([]action.Descriptor, len(all))
	for i, ra := range all {
		out[i] = ra.Describe()
	}
	return out
}

// Triggers returns every binding of type t, ordered by action key.
func (r *Registry) Triggers(t trigger.Type) []Binding {
	var out []Binding
	for _, ra := range r.All() {
		for _, tr := range ra.Triggers {
			if tr.Type == t {
				out = append(out, Binding{Action: ra, Trigger: tr})
			}
		}
	}
	return out
}
