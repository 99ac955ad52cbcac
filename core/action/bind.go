package action

import (
	"github.com/mitchellh/mapstructure"

	"github.com/artpar/actionkit/core/failure"
)

// Bind decodes validated input into T using json field tags.
func Bind[T any](input any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
		),
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(input); err != nil {
		return out, failure.Validation(failure.PhaseInput, []failure.FieldError{{Message: err.Error()}})
	}
	return out, nil
}

// Typed adapts a typed function into a Handler.
func Typed[In, Out any](fn func(ctx *Context, in In) (Out, error)) Handler {
	return func(ctx *Context, input any) (any, error) {
		in, err := Bind[In](input)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}
