package action

import (
	"context"
	"net/http"
	"slices"

	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/trigger"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject  string         `json:"subject"`
	TenantID string         `json:"tenant_id,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	return i != nil && slices.Contains(i.Roles, role)
}

// RetryInfo tells a handler which attempt it is running.
type RetryInfo struct {
	Attempt     int
	MaxAttempts int
}

// Last reports whether this is the final attempt.
func (r RetryInfo) Last() bool {
	return r.Attempt >= r.MaxAttempts
}

// ResponseSink lets handlers set transport headers and cookies directly.
type ResponseSink interface {
	SetHeader(key, value string)
	SetCookie(cookie *http.Cookie)
}

// HTTPResponse adapts a ResponseWriter into a ResponseSink.
func HTTPResponse(w http.ResponseWriter) ResponseSink {
	return httpSink{w: w}
}

type httpSink struct {
	w http.ResponseWriter
}

func (s httpSink) SetHeader(key, value string)   { s.w.Header().Set(key, value) }
func (s httpSink) SetCookie(cookie *http.Cookie) { http.SetCookie(s.w, cookie) }

// Descriptor is the read-only view of a registered action.
type Descriptor struct {
	Key         string           `json:"key"`
	Module      string           `json:"module,omitempty"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Triggers    []trigger.Config `json:"triggers,omitempty"`
}

// Catalog lists the registered actions.
type Catalog interface {
	Describe() []Descriptor
}

// Context is passed to guards and handlers for one invocation.
type Context struct {
	context.Context

	Key     string
	TraceID string
	Retry   RetryInfo
	Auth    *Identity
	Trigger trigger.Type

	Request  *http.Request
	Response ResponseSink
	Registry Catalog
	Logger   zerolog.Logger

	// Emitter and Caller are installed by the executor.
	Emitter func(name string, payload any)
	Caller  func(key string, input any) (any, error)
}

// Emit publishes an event on the bus.
func (c *Context) Emit(name string, payload any) {
	if c.Emitter != nil {
		c.Emitter(name, payload)
	}
}

// Action invokes another registered action as a nested call sharing this
// invocation's trace.
func (c *Context) Action(key string, input any) (any, error) {
	if c.Caller == nil {
		return nil, failure.Unavailable("nested action calls are not available")
	}
	return c.Caller(key, input)
}

// WithMeta attaches transport metadata to a handler result.
func (c *Context) WithMeta(data any, meta Meta) Envelope {
	return WithMeta(data, meta)
}
