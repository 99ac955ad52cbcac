package bootstrap

import (
	"time"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/audit"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/guard"
	"github.com/artpar/actionkit/core/schema"
	"github.com/artpar/actionkit/core/trigger"
)

const defaultRunsLimit = 20

// SystemInfo feeds the system module.
type SystemInfo struct {
	Version string
	Started time.Time
	// Runs is nil when the audit sink cannot be queried.
	Runs RunReader
	// Guards protect system.actions and system.runs. system.health is
	// always open.
	Guards []action.Guard
}

// Health is the system.health response.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
	Actions int    `json:"actions"`
}

type runsInput struct {
	Limit int `json:"limit"`
}

// SystemModule returns the built-in "system" module.
func SystemModule(info SystemInfo) action.Module {
	protected := guard.Sequential(info.Guards...)

	return action.Module{
		Name:        "system",
		Prefix:      "/system",
		Description: "Introspection of the running instance",
		Actions: []*action.Definition{
			action.MustDefine(action.Config{
				Name:        "health",
				Description: "Report liveness, version and uptime",
				Triggers:    []trigger.Config{trigger.Get("/health"), trigger.AsTool("")},
			}, action.Typed(func(ctx *action.Context, _ struct{}) (Health, error) {
				h := Health{
					Status:  "ok",
					Version: info.Version,
					Uptime:  time.Since(info.Started).Truncate(time.Second).String(),
				}
				if ctx.Registry != nil {
					h.Actions = len(ctx.Registry.Describe())
				}
				return h, nil
			})),

			action.MustDefine(action.Config{
				Name:        "actions",
				Description: "List registered actions and their triggers",
				Triggers:    []trigger.Config{trigger.Get("/actions"), trigger.AsTool("")},
				Guards:      protected,
			}, func(ctx *action.Context, _ any) (any, error) {
				if ctx.Registry == nil {
					return []action.Descriptor{}, nil
				}
				return ctx.Registry.Describe(), nil
			}),

			action.MustDefine(action.Config{
				Name:        "runs",
				Description: "List the most recent run entries",
				Input: schema.Object(schema.Props{
					"limit": schema.Integer().In(schema.LocationQuery).Min(1).Max(1000),
				}),
				Triggers: []trigger.Config{trigger.Get("/runs"), trigger.AsTool("")},
				Guards:   protected,
			}, action.Typed(func(ctx *action.Context, in runsInput) ([]audit.RunEntry, error) {
				if info.Runs == nil {
					return nil, failure.Unavailable("the configured audit sink cannot be queried")
				}
				if in.Limit <= 0 {
					in.Limit = defaultRunsLimit
				}
				return info.Runs.Recent(ctx, in.Limit)
			})),
		},
	}
}
