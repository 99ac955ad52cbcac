// Package action defines actions: named, schema-validated units of business
// logic that any trigger can invoke.
package action

import (
	"errors"
	"fmt"

	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/retry"
	"github.com/artpar/actionkit/core/schema"
	"github.com/artpar/actionkit/core/trigger"
)

var (
	ErrNameRequired    = errors.New("action name is required")
	ErrHandlerRequired = errors.New("action handler is required")
	ErrOutputLocation  = errors.New("output schema places a field at an input-only location")
)

// Handler is the business logic of an action.
type Handler func(ctx *Context, input any) (any, error)

// Config declares an action.
type Config struct {
	Name        string
	Description string
	Input       *schema.Schema
	Output      *schema.Schema
	Triggers    []trigger.Config
	Guards      GuardSpec
	Retry       *retry.Config
}

// Definition is an action whose handler validates input and output.
// It is immutable once defined.
type Definition struct {
	cfg    Config
	raw    Handler
	input  schema.Validator
	output schema.Validator
}

// Define validates cfg and wraps h with schema checks.
func Define(cfg Config, h Handler) (*Definition, error) {
	if cfg.Name == "" {
		return nil, ErrNameRequired
	}
	if h == nil {
		return nil, fmt.Errorf("define %q: %w", cfg.Name, ErrHandlerRequired)
	}
	if cfg.Output != nil {
		if bad := cfg.Output.InputOnlyFields(); len(bad) > 0 {
			return nil, fmt.Errorf("define %q: fields %v: %w", cfg.Name, bad, ErrOutputLocation)
		}
	}

	cfg.Triggers = append([]trigger.Config(nil), cfg.Triggers...)
	cfg.Guards = GuardSpec{Mode: cfg.Guards.Mode, Guards: append([]Guard(nil), cfg.Guards.Guards...)}
	if cfg.Retry != nil {
		r := cfg.Retry.Normalize()
		cfg.Retry = &r
	}

	return &Definition{
		cfg:    cfg,
		raw:    h,
		input:  schema.Compile(cfg.Input),
		output: schema.Compile(cfg.Output),
	}, nil
}

// MustDefine is Define for package level declarations. It panics on error.
func MustDefine(cfg Config, h Handler) *Definition {
	d, err := Define(cfg, h)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Definition) Name() string        { return d.cfg.Name }
func (d *Definition) Description() string { return d.cfg.Description }
func (d *Definition) Input() *schema.Schema {
	return d.cfg.Input
}
func (d *Definition) Output() *schema.Schema {
	return d.cfg.Output
}

// Triggers returns a copy of the declared triggers.
func (d *Definition) Triggers() []trigger.Config {
	return append([]trigger.Config(nil), d.cfg.Triggers...)
}

// Guards returns the action level guard spec.
func (d *Definition) Guards() GuardSpec {
	return GuardSpec{Mode: d.cfg.Guards.Mode, Guards: append([]Guard(nil), d.cfg.Guards.Guards...)}
}

// Retry returns the action's own policy, if it declared one.
func (d *Definition) Retry() (retry.Config, bool) {
	if d.cfg.Retry == nil {
		return retry.Config{}, false
	}
	return *d.cfg.Retry, true
}

// Invoke runs the wrapped handler: input validation, the handler itself,
// then output validation of the data with any envelope stripped.
func (d *Definition) Invoke(ctx *Context, input any) (any, error) {
	if fields := d.input.Errors(input); len(fields) > 0 {
		return nil, failure.Validation(failure.PhaseInput, fields)
	}

	out, err := d.raw(ctx, input)
	if err != nil {
		return nil, err
	}

	data, meta := Split(out)
	if fields := d.output.Errors(data); len(fields) > 0 {
		return nil, failure.Validation(failure.PhaseOutput, fields)
	}
	if meta != nil {
		return Envelope{Data: data, Meta: *meta}, nil
	}
	return data, nil
}
