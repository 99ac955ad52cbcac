package schema

import (
	"encoding/json"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/artpar/actionkit/core/failure"
)

// Validator checks values against a compiled schema.
type Validator interface {
	Check(value any) bool
	Errors(value any) []failure.FieldError
}

// Compile returns a validator for s. A nil schema accepts everything.
func Compile(s *Schema) Validator {
	if s == nil || s.root == nil {
		return acceptAll{}
	}
	return &compiled{root: s.root}
}

type acceptAll struct{}

func (acceptAll) Check(any) bool                   { return true }
func (acceptAll) Errors(any) []failure.FieldError { return nil }

type compiled struct {
	root *openapi3.Schema
}

func (c *compiled) Check(value any) bool {
	return len(c.Errors(value)) == 0
}

func (c *compiled) Errors(value any) []failure.FieldError {
	doc, err := normalize(value)
	if err != nil {
		return []failure.FieldError{{Message: "value is not JSON encodable: " + err.Error()}}
	}
	if err := c.root.VisitJSON(doc, openapi3.MultiErrors()); err != nil {
		return collect(err, nil)
	}
	return nil
}

// normalize turns structs and typed maps into the generic JSON shape the
// validator walks.
func normalize(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64:
		return value, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func collect(err error, out []failure.FieldError) []failure.FieldError {
	switch e := err.(type) {
	case openapi3.MultiError:
		for _, inner := range e {
			out = collect(inner, out)
		}
		return out
	case *openapi3.SchemaError:
		return append(out, failure.FieldError{
			Path:    strings.Join(e.JSONPointer(), "."),
			Message: e.Reason,
		})
	default:
		return append(out, failure.FieldError{Message: err.Error()})
	}
}
