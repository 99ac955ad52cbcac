// Package trigger describes how an action can be invoked.
package trigger

import (
	"fmt"
	"net/http"
	"strings"
)

// Type identifies the transport that started an invocation.
type Type string

const (
	HTTP    Type = "http"
	Webhook Type = "webhook"
	Cron    Type = "cron"
	Event   Type = "event"
	Tool    Type = "tool"

	// Internal marks a nested call made through Context.Action.
	Internal Type = "action"
	// Manual marks a direct call from code or the CLI.
	Manual Type = "manual"
)

// Config binds an action to one transport.
type Config struct {
	Type     Type   `json:"type" yaml:"type"`
	Method   string `json:"method,omitempty" yaml:"method,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Event    string `json:"event,omitempty" yaml:"event,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Route exposes an action as an HTTP endpoint.
func Route(method, path string) Config {
	return Config{Type: HTTP, Method: strings.ToUpper(method), Path: path}
}

func Get(path string) Config    { return Route(http.MethodGet, path) }
func Post(path string) Config   { return Route(http.MethodPost, path) }
func Put(path string) Config    { return Route(http.MethodPut, path) }
func Patch(path string) Config  { return Route(http.MethodPatch, path) }
func Delete(path string) Config { return Route(http.MethodDelete, path) }

// Hook exposes an action as an inbound webhook. Webhooks are always POST.
func Hook(path string) Config {
	return Config{Type: Webhook, Method: http.MethodPost, Path: path}
}

// Schedule runs an action on a cron expression.
func Schedule(expr string) Config {
	return Config{Type: Cron, Schedule: expr}
}

// On runs an action when a named event is published. Wildcards follow the
// event bus rules ("user.*", "*").
func On(event string) Config {
	return Config{Type: Event, Event: event}
}

// AsTool exposes an action as a tool call. An empty name derives one from
// the action key.
func AsTool(name string) Config {
	return Config{Type: Tool, Name: name}
}

// HasPath reports whether the trigger is addressed by URL path.
func (c Config) HasPath() bool {
	return c.Type == HTTP || c.Type == Webhook
}

// WithPrefix returns a copy with the path mounted under prefix. Triggers
// without a path are returned unchanged.
func (c Config) WithPrefix(prefix string) Config {
	if !c.HasPath() || prefix == "" {
		return c
	}
	c.Path = JoinPath(prefix, c.Path)
	return c
}

func (c Config) String() string {
	switch c.Type {
	case HTTP, Webhook:
		return fmt.Sprintf("%s %s %s", c.Type, c.Method, c.Path)
	case Cron:
		return fmt.Sprintf("cron %q", c.Schedule)
	case Event:
		return "event " + c.Event
	case Tool:
		if c.Name == "" {
			return "tool"
		}
		return "tool " + c.Name
	default:
		return string(c.Type)
	}
}

// JoinPath joins URL path segments with exactly one slash between them.
func JoinPath(prefix, path string) string {
	prefix = "/" + strings.Trim(prefix, "/")
	path = strings.Trim(path, "/")
	if prefix == "/" {
		return "/" + path
	}
	if path == "" {
		return prefix
	}
	return prefix + "/" + path
}
