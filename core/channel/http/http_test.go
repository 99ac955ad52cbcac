package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/guard"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/schema"
	"github.com/artpar/actionkit/core/trigger"
)

func setup(t *testing.T, opts []Option, mods ...action.Module) *Channel {
	t.Helper()
	reg := registry.New()
	for _, m := range mods {
		if err := reg.RegisterModule(m); err != nil {
			t.Fatalf("RegisterModule: %v", err)
		}
	}
	c := New(runtime.New(reg), opts...)
	for _, ra := range reg.All() {
		if err := c.Register(ra); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return c
}

func do(t *testing.T, c *Channel, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func echoModule() action.Module {
	return action.Module{
		Name:   "notes",
		Prefix: "/api/notes",
		Actions: []*action.Definition{
			action.MustDefine(action.Config{
				Name: "update",
				Input: schema.Object(schema.Props{
					"id":    schema.String().In(schema.LocationPath).Required(),
					"limit": schema.Integer().In(schema.LocationQuery),
					"text":  schema.String(),
				}),
				Triggers: []trigger.Config{trigger.Put("/{id}")},
			}, func(ctx *action.Context, input any) (any, error) {
				return input, nil
			}),
		},
	}
}

func TestChannel_Name(t *testing.T) {
	c := New(nil)
	if c.Name() != "http" {
		t.Errorf("Name() = %q, want %q", c.Name(), "http")
	}
}

func TestChannel_MergesBodyQueryAndPath(t *testing.T) {
	c := setup(t, nil, echoModule())

	rec, out := do(t, c, http.MethodPut, "/api/notes/n1?limit=5", `{"id":"ignored","text":"hello"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	data := out["data"].(map[string]any)
	if data["id"] != "n1" {
		t.Errorf("id = %v, path parameter should win", data["id"])
	}
	if data["text"] != "hello" {
		t.Errorf("text = %v", data["text"])
	}
	if data["limit"] != float64(5) {
		t.Errorf("limit = %v (%T), want coerced 5", data["limit"], data["limit"])
	}
	if out["success"] != true {
		t.Errorf("success = %v", out["success"])
	}
	if rec.Header().Get(TraceHeader) == "" {
		t.Error("missing trace header")
	}
}

func TestChannel_ValidationError(t *testing.T) {
	c := setup(t, nil, echoModule())

	rec, out := do(t, c, http.MethodPut, "/api/notes/n1", `{"text":42}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if out["success"] != false || out["code"] != "VALIDATION_FAILED" {
		t.Errorf("body = %v", out)
	}
	if fields, ok := out["fields"].([]any); !ok || len(fields) == 0 {
		t.Errorf("fields = %v, want field errors", out["fields"])
	}
}

func TestChannel_InvalidJSON(t *testing.T) {
	c := setup(t, nil, echoModule())

	rec, _ := do(t, c, http.MethodPut, "/api/notes/n1", `{"text":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec, _ = do(t, c, http.MethodPut, "/api/notes/n1", `[1,2]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("array body status = %d, want 400", rec.Code)
	}
}

func TestChannel_BodyTooLarge(t *testing.T) {
	c := setup(t, []Option{WithMaxBody(8)}, echoModule())

	rec, out := do(t, c, http.MethodPut, "/api/notes/n1", `{"text":"far too long for the limit"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d body = %v, want 413", rec.Code, out)
	}
}

func TestChannel_MetaStatusHeadersCookies(t *testing.T) {
	mod := action.Module{
		Name: "users",
		Actions: []*action.Definition{
			action.MustDefine(action.Config{
				Name:     "create",
				Triggers: []trigger.Config{trigger.Post("/users")},
			}, func(ctx *action.Context, _ any) (any, error) {
				return ctx.WithMeta(map[string]any{"id": "u1"}, action.Meta{
					HTTP: &action.HTTPMeta{
						Status:  http.StatusCreated,
						Headers: map[string]string{"Location": "/users/u1"},
						Cookies: []*http.Cookie{{Name: "session", Value: "abc"}},
					},
				}), nil
			}),
			action.MustDefine(action.Config{
				Name:     "remove",
				Triggers: []trigger.Config{trigger.Delete("/users/{id}")},
			}, func(ctx *action.Context, _ any) (any, error) {
				return ctx.WithMeta(nil, action.Meta{HTTP: &action.HTTPMeta{Status: http.StatusNoContent}}), nil
			}),
		},
	}
	c := setup(t, nil, mod)

	rec, out := do(t, c, http.MethodPost, "/users", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("Location") != "/users/u1" {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "session=abc") {
		t.Errorf("Set-Cookie = %q", rec.Header().Get("Set-Cookie"))
	}
	if data := out["data"].(map[string]any); data["id"] != "u1" {
		t.Errorf("data = %v", data)
	}

	rec, _ = do(t, c, http.MethodDelete, "/users/u1", "")
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("delete status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestChannel_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not found", failure.NotFound("note not found"), http.StatusNotFound, "note not found"},
		{"conflict", failure.Conflict("exists"), http.StatusConflict, "exists"},
		{"unclassified", errors.New("db password leaked"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := action.Module{
				Name: "m",
				Actions: []*action.Definition{
					action.MustDefine(action.Config{
						Name:     "a",
						Triggers: []trigger.Config{trigger.Get("/a")},
					}, func(*action.Context, any) (any, error) { return nil, tt.err }),
				},
			}
			c := setup(t, nil, mod)

			rec, out := do(t, c, http.MethodGet, "/a", "")

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if out["error"] != tt.msg {
				t.Errorf("error = %v, want %q", out["error"], tt.msg)
			}
		})
	}
}

func TestChannel_GuardsAndAuthenticator(t *testing.T) {
	mod := action.Module{
		Name:   "admin",
		Guards: guard.Sequential(guard.RequireAuth()),
		Actions: []*action.Definition{
			action.MustDefine(action.Config{
				Name:     "stats",
				Guards:   guard.Sequential(guard.RequireRole("admin")),
				Triggers: []trigger.Config{trigger.Get("/admin/stats")},
			}, func(ctx *action.Context, _ any) (any, error) {
				return map[string]any{"subject": ctx.Auth.Subject}, nil
			}),
		},
	}
	auth := func(r *http.Request) (*action.Identity, error) {
		switch r.Header.Get("Authorization") {
		case "":
			return nil, nil
		case "Bearer admin":
			return &action.Identity{Subject: "root", Roles: []string{"admin"}}, nil
		case "Bearer user":
			return &action.Identity{Subject: "bob"}, nil
		default:
			return nil, errors.New("invalid token")
		}
	}
	c := setup(t, []Option{WithAuthenticator(auth)}, mod)

	for header, want := range map[string]int{
		"":             http.StatusUnauthorized,
		"Bearer bogus": http.StatusUnauthorized,
		"Bearer user":  http.StatusForbidden,
		"Bearer admin": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%q: status = %d, want %d", header, rec.Code, want)
		}
	}
}

func TestChannel_Webhook(t *testing.T) {
	var gotTrigger trigger.Type
	mod := action.Module{
		Name:   "billing",
		Prefix: "/hooks",
		Actions: []*action.Definition{
			action.MustDefine(action.Config{
				Name:     "paid",
				Triggers: []trigger.Config{trigger.Hook("/stripe")},
			}, func(ctx *action.Context, input any) (any, error) {
				gotTrigger = ctx.Trigger
				return input, nil
			}),
		},
	}
	c := setup(t, nil, mod)

	rec, _ := do(t, c, http.MethodPost, "/hooks/stripe", `{"event":"invoice.paid"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotTrigger != trigger.Webhook {
		t.Errorf("trigger = %q, want webhook", gotTrigger)
	}
}

func TestChannel_DuplicateRoute(t *testing.T) {
	reg := registry.New()
	mk := func(name string) *action.Definition {
		return action.MustDefine(action.Config{
			Name:     name,
			Triggers: []trigger.Config{trigger.Get("/same")},
		}, func(*action.Context, any) (any, error) { return nil, nil })
	}
	_ = reg.RegisterAction(mk("a"))
	_ = reg.RegisterAction(mk("b"))

	c := New(runtime.New(reg))
	a, _ := reg.Get("a")
	b, _ := reg.Get("b")
	if err := c.Register(a); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := c.Register(b); err == nil {
		t.Error("expected duplicate route error")
	}
}

func TestChannel_Routes(t *testing.T) {
	c := setup(t, nil, echoModule())
	routes := c.Routes()
	if len(routes) != 1 {
		t.Fatalf("routes = %v", routes)
	}
	want := Route{Method: "PUT", Path: "/api/notes/{id}", Action: "notes.update", Trigger: "http"}
	if routes[0] != want {
		t.Errorf("route = %+v, want %+v", routes[0], want)
	}
}

func TestChannel_IgnoresNonHTTPTriggers(t *testing.T) {
	reg := registry.New()
	_ = reg.RegisterAction(action.MustDefine(action.Config{
		Name:     "nightly",
		Triggers: []trigger.Config{trigger.Schedule("0 0 * * *")},
	}, func(*action.Context, any) (any, error) { return nil, nil }))

	c := New(runtime.New(reg))
	ra, _ := reg.Get("nightly")
	if err := c.Register(ra); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(c.Routes()) != 0 {
		t.Errorf("routes = %v, want none", c.Routes())
	}
}

func TestChannel_ResetAndRebind(t *testing.T) {
	reg := registry.New()
	mk := func(name string) *action.Definition {
		return action.MustDefine(action.Config{
			Name:     name,
			Triggers: []trigger.Config{trigger.Get("/same")},
		}, func(*action.Context, any) (any, error) { return name, nil })
	}
	_ = reg.RegisterAction(mk("a"))
	_ = reg.RegisterAction(mk("b"))
	a, _ := reg.Get("a")
	b, _ := reg.Get("b")

	c := New(runtime.New(reg))
	if err := c.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c.Reset()
	if len(c.Routes()) != 0 {
		t.Errorf("routes after reset = %v", c.Routes())
	}
	rec, _ := do(t, c, http.MethodGet, "/same", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after reset = %d, want 404", rec.Code)
	}

	if err := c.Register(b); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	rec, body := do(t, c, http.MethodGet, "/same", "")
	if rec.Code != http.StatusOK || body["data"] != "b" {
		t.Errorf("rebound response = %d %v", rec.Code, body)
	}
}
