// Package schema builds action input and output schemas on top of
// kin-openapi and compiles them into validators.
package schema

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// Location is where a field lives on the transport.
type Location string

const (
	LocationBody   Location = "body"
	LocationQuery  Location = "query"
	LocationPath   Location = "path"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
)

// InputOnly reports whether the location can only carry request data.
func (l Location) InputOnly() bool {
	return l == LocationQuery || l == LocationPath
}

// Property describes one field. Builder methods mutate and return the receiver.
type Property struct {
	s        *openapi3.Schema
	required bool
	location Location

	children Props
	items    *Property
}

func String() *Property  { return &Property{s: openapi3.NewStringSchema()} }
func Integer() *Property { return &Property{s: openapi3.NewIntegerSchema()} }
func Number() *Property  { return &Property{s: openapi3.NewFloat64Schema()} }
func Bool() *Property    { return &Property{s: openapi3.NewBoolSchema()} }

// Any accepts every JSON value.
func Any() *Property { return &Property{s: &openapi3.Schema{}} }

// Array is a list of items.
func Array(items *Property) *Property {
	s := openapi3.NewArraySchema()
	if items != nil {
		s.WithItems(items.s)
	}
	return &Property{s: s, items: items}
}

// Nested is an object-valued field.
func Nested(props Props) *Property {
	return &Property{s: buildObject(props), children: props}
}

func (p *Property) Required() *Property {
	p.required = true
	return p
}

// In places the field at a transport location. The default is body.
func (p *Property) In(loc Location) *Property {
	p.location = loc
	return p
}

func (p *Property) Describe(text string) *Property {
	p.s.Description = text
	return p
}

func (p *Property) MinLength(n int64) *Property {
	p.s.WithMinLength(n)
	return p
}

func (p *Property) MaxLength(n int64) *Property {
	p.s.WithMaxLength(n)
	return p
}

func (p *Property) Min(v float64) *Property {
	p.s.WithMin(v)
	return p
}

func (p *Property) Max(v float64) *Property {
	p.s.WithMax(v)
	return p
}

func (p *Property) Enum(values ...any) *Property {
	p.s.WithEnum(values...)
	return p
}

// Location returns the transport location of the field.
func (p *Property) Location() Location {
	if p.location == "" {
		return LocationBody
	}
	return p.location
}

// Props maps field names to properties.
type Props map[string]*Property

// Schema is an object schema with per-field transport locations.
type Schema struct {
	root      *openapi3.Schema
	locations map[string]Location
	inputOnly []string
}

// Object builds a top level object schema.
func Object(props Props) *Schema {
	locs := make(map[string]Location, len(props))
	for name, p := range props {
		if p != nil {
			locs[name] = p.Location()
		}
	}
	inputOnly := inputOnlyPaths("", props)
	sort.Strings(inputOnly)
	return &Schema{root: buildObject(props), locations: locs, inputOnly: inputOnly}
}

// inputOnlyPaths walks props, nested objects and array items included, and
// returns the dotted paths of fields placed at an input-only location.
// Array items are addressed as name[].
func inputOnlyPaths(prefix string, props Props) []string {
	var out []string
	for name, p := range props {
		out = append(out, p.inputOnlyPaths(prefix+name)...)
	}
	return out
}

func (p *Property) inputOnlyPaths(path string) []string {
	if p == nil {
		return nil
	}
	var out []string
	if p.Location().InputOnly() {
		out = append(out, path)
	}
	if p.children != nil {
		out = append(out, inputOnlyPaths(path+".", p.children)...)
	}
	if p.items != nil {
		out = append(out, p.items.inputOnlyPaths(path+"[]")...)
	}
	return out
}

func buildObject(props Props) *openapi3.Schema {
	obj := openapi3.NewObjectSchema()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := props[name]
		if p == nil {
			continue
		}
		obj.WithProperty(name, p.s)
		if p.required {
			obj.Required = append(obj.Required, name)
		}
	}
	return obj
}

// OpenAPI exposes the underlying schema.
func (s *Schema) OpenAPI() *openapi3.Schema {
	return s.root
}

// JSON renders the schema as JSON Schema.
func (s *Schema) JSON() (json.RawMessage, error) {
	return json.Marshal(s.root)
}

// Fields returns the top level field names, sorted.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.locations))
	for name := range s.locations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LocationOf returns where a top level field lives.
func (s *Schema) LocationOf(field string) (Location, bool) {
	loc, ok := s.locations[field]
	return loc, ok
}

// InputOnlyFields lists fields placed at a location responses cannot carry,
// at any depth. Nested fields are reported as dotted paths.
func (s *Schema) InputOnlyFields() []string {
	return append([]string(nil), s.inputOnly...)
}

// Coerce converts a raw string from a query or path parameter into the
// scalar type declared for field. Values that do not parse, and fields that
// are unknown or not scalar, are returned unchanged.
func (s *Schema) Coerce(field, raw string) any {
	if s == nil || s.root == nil {
		return raw
	}
	ref, ok := s.root.Properties[field]
	if !ok || ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return raw
	}
	t := ref.Value.Type
	switch {
	case t.Is(openapi3.TypeInteger):
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case t.Is(openapi3.TypeNumber):
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case t.Is(openapi3.TypeBoolean):
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}
