// Package http exposes actions with HTTP and webhook triggers as chi routes.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/schema"
	"github.com/artpar/actionkit/core/trigger"
)

// TraceHeader carries the invocation's trace ID on every response.
const TraceHeader = "X-Trace-Id"

// Authenticator resolves the caller of a request. A nil identity with a nil
// error means anonymous; an error rejects the request with 401.
type Authenticator func(r *http.Request) (*action.Identity, error)

// Route is one mounted endpoint.
type Route struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Action  string `json:"action"`
	Trigger string `json:"trigger"`
}

// Channel implements the HTTP channel.
type Channel struct {
	router  chi.Router
	exec    channel.Executor
	auth    Authenticator
	logger  zerolog.Logger
	maxBody int64

	mu     sync.RWMutex
	routes map[string]*binding
}

// binding is a mounted route. Reset detaches the action; the route stays
// on the router and answers 404 until an action binds it again.
type binding struct {
	Route
	ra *registry.RegisteredAction
	tr trigger.Config
}

// Option configures a Channel.
type Option func(*Channel)

func WithAuthenticator(a Authenticator) Option {
	return func(c *Channel) { c.auth = a }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithRouter mounts routes on an existing router.
func WithRouter(r chi.Router) Option {
	return func(c *Channel) { c.router = r }
}

// WithMaxBody limits request bodies. Zero disables the limit.
func WithMaxBody(n int64) Option {
	return func(c *Channel) { c.maxBody = n }
}

// New creates a new HTTP channel.
func New(exec channel.Executor, opts ...Option) *Channel {
	c := &Channel{
		exec:    exec,
		logger:  zerolog.Nop(),
		maxBody: 1 << 20,
		routes:  make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.router == nil {
		c.router = chi.NewRouter()
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

// Routes returns the bound endpoints sorted by path and method.
func (c *Channel) Routes() []Route {
	c.mu.RLock()
	out := make([]Route, 0, len(c.routes))
	for _, b := range c.routes {
		if b.ra != nil {
			out = append(out, b.Route)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Register mounts every HTTP and webhook trigger of ra.
func (c *Channel) Register(ra *registry.RegisteredAction) error {
	for _, tr := range ra.Triggers {
		if !tr.HasPath() {
			continue
		}
		method := strings.ToUpper(tr.Method)
		if method == "" {
			method = http.MethodPost
		}
		if !strings.HasPrefix(tr.Path, "/") {
			return fmt.Errorf("action %q: route path %q must start with /", ra.Key, tr.Path)
		}
		id := method + " " + tr.Path
		route := Route{Method: method, Path: tr.Path, Action: ra.Key, Trigger: string(tr.Type)}

		c.mu.Lock()
		b, mounted := c.routes[id]
		if mounted && b.ra != nil {
			c.mu.Unlock()
			return fmt.Errorf("route %s already bound to %q, cannot bind %q", id, b.Action, ra.Key)
		}
		if !mounted {
			b = &binding{}
			c.routes[id] = b
		}
		b.Route, b.ra, b.tr = route, ra, tr
		c.mu.Unlock()

		if !mounted {
			c.router.Method(method, tr.Path, c.handle(id))
		}
		c.logger.Debug().Str("method", method).Str("path", tr.Path).Str("action", ra.Key).Msg("route mounted")
	}
	return nil
}

// Reset detaches every route from its action before a remount.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.routes {
		b.ra = nil
	}
}

func (c *Channel) lookup(id string) (*registry.RegisteredAction, trigger.Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.routes[id]
	if !ok || b.ra == nil {
		return nil, trigger.Config{}, false
	}
	return b.ra, b.tr, true
}

func (c *Channel) handle(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ra, tr, ok := c.lookup(id)
		if !ok {
			c.writeError(w, failure.NotFound("no action bound to this route"))
			return
		}

		input, err := c.input(w, r, ra.Definition.Input())
		if err != nil {
			c.writeError(w, err)
			return
		}

		opts := runtime.Options{
			Trigger:  tr.Type,
			Request:  r,
			Response: action.HTTPResponse(w),
		}
		if c.auth != nil {
			id, err := c.auth(r)
			if err != nil {
				c.writeError(w, failure.Guard(http.StatusUnauthorized, err.Error()))
				return
			}
			opts.Auth = id
		}

		res := c.exec.Execute(r.Context(), ra, input, opts)
		if res.TraceID != "" {
			w.Header().Set(TraceHeader, res.TraceID)
		}
		if !res.Success {
			c.writeError(w, res.Err)
			return
		}
		c.writeResult(w, res)
	}
}

// input merges the JSON body, the query string and the path parameters, in
// that order of precedence from lowest to highest. Parameters are coerced to
// the scalar types declared by the input schema.
func (c *Channel) input(w http.ResponseWriter, r *http.Request, in *schema.Schema) (map[string]any, error) {
	input := make(map[string]any)

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body := io.Reader(r.Body)
		if c.maxBody > 0 {
			body = http.MaxBytesReader(w, r.Body, c.maxBody)
		}
		var raw any
		switch err := json.NewDecoder(body).Decode(&raw); {
		case errors.Is(err, io.EOF):
		case err != nil:
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, failure.Domain(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
			}
			return nil, failure.BadRequest("invalid JSON body: " + err.Error())
		default:
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, failure.BadRequest("request body must be a JSON object")
			}
			for k, v := range obj {
				input[k] = v
			}
		}
	}

	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			input[k] = in.Coerce(k, vs[0])
		} else {
			input[k] = vs
		}
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			if k == "*" {
				continue
			}
			input[k] = in.Coerce(k, rctx.URLParams.Values[i])
		}
	}
	return input, nil
}

func (c *Channel) writeResult(w http.ResponseWriter, res runtime.Result) {
	status := http.StatusOK
	if res.Meta != nil && res.Meta.HTTP != nil {
		m := res.Meta.HTTP
		for k, v := range m.Headers {
			w.Header().Set(k, v)
		}
		for _, ck := range m.Cookies {
			http.SetCookie(w, ck)
		}
		if m.Status != 0 {
			status = m.Status
		}
	}

	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	c.writeJSON(w, status, map[string]any{
		"success": true,
		"data":    res.Data,
	})
}

// writeError maps a failure onto its HTTP status. Panic and unclassified
// server errors are not echoed to the client.
func (c *Channel) writeError(w http.ResponseWriter, err error) {
	status := failure.HTTPStatus(err)
	body := map[string]any{
		"success": false,
		"error":   err.Error(),
		"code":    failure.CodeOf(err),
	}
	if fe, ok := failure.As(err); ok {
		if len(fe.Fields) > 0 {
			body["fields"] = fe.Fields
		}
		if fe.Kind == failure.KindPanic {
			body["error"] = http.StatusText(status)
		}
	} else if status >= 500 {
		body["error"] = http.StatusText(status)
	}
	if status >= 500 {
		c.logger.Error().Err(err).Int("status", status).Msg("action failed")
	}
	c.writeJSON(w, status, body)
}

func (c *Channel) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Warn().Err(err).Msg("write response")
	}
}
