// Package channel connects transports to the executor. Each channel turns
// the triggers it understands into invocations and maps the result onto its
// own protocol.
package channel

import (
	"context"
	"fmt"

	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
)

// Executor runs an invocation. *runtime.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, ra *registry.RegisteredAction, input any, opts runtime.Options) runtime.Result
}

// Channel binds registered actions to a transport.
type Channel interface {
	Name() string
	// Register binds every trigger of ra the channel understands. Actions
	// without such triggers are ignored.
	Register(ra *registry.RegisteredAction) error
}

// Source lists registered actions.
type Source interface {
	All() []*registry.RegisteredAction
}

// Mount registers every action of src with each channel.
func Mount(src Source, channels ...Channel) error {
	for _, ra := range src.All() {
		for _, ch := range channels {
			if err := ch.Register(ra); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
		}
	}
	return nil
}

// Resetter is implemented by channels that can drop their bindings so a
// reloaded catalog can be mounted again.
type Resetter interface {
	Reset()
}

// Remount resets every channel that supports it and mounts src again.
func Remount(src Source, channels ...Channel) error {
	for _, ch := range channels {
		if r, ok := ch.(Resetter); ok {
			r.Reset()
		}
	}
	return Mount(src, channels...)
}

var _ Executor = (*runtime.Executor)(nil)
