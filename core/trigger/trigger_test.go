package trigger_test

import (
	"testing"

	"github.com/artpar/actionkit/core/trigger"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"/users", "/list", "/users/list"},
		{"users/", "list", "/users/list"},
		{"/users", "/", "/users"},
		{"/", "/list", "/list"},
		{"", "list", "/list"},
		{"/api/v1", "/users/{id}", "/api/v1/users/{id}"},
	}
	for _, tt := range tests {
		if got := trigger.JoinPath(tt.prefix, tt.path); got != tt.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	got := trigger.Get("/list").WithPrefix("/users")
	if got.Path != "/users/list" || got.Method != "GET" {
		t.Errorf("WithPrefix(http) = %+v", got)
	}

	hook := trigger.Hook("/stripe").WithPrefix("/billing")
	if hook.Path != "/billing/stripe" || hook.Method != "POST" {
		t.Errorf("WithPrefix(webhook) = %+v", hook)
	}

	cron := trigger.Schedule("*/5 * * * *")
	if cron.WithPrefix("/users") != cron {
		t.Error("cron trigger should not change")
	}
	ev := trigger.On("user.*")
	if ev.WithPrefix("/users") != ev {
		t.Error("event trigger should not change")
	}
}

func TestRouteUppercasesMethod(t *testing.T) {
	if got := trigger.Route("patch", "/x").Method; got != "PATCH" {
		t.Errorf("Method = %q, want PATCH", got)
	}
}

func TestString(t *testing.T) {
	if got := trigger.Post("/echo").String(); got != "http POST /echo" {
		t.Errorf("String() = %q", got)
	}
	if got := trigger.AsTool("").String(); got != "tool" {
		t.Errorf("String() = %q", got)
	}
}
