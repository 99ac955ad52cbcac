package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/guard"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/schema"
	"github.com/artpar/actionkit/core/trigger"
)

func setup(t *testing.T, opts []Option, defs ...*action.Definition) (*Channel, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterModule(action.Module{Name: "kb", Actions: defs}))
	c := New(runtime.New(reg), "actionkit-test", "0.0.0", opts...)
	for _, ra := range reg.All() {
		require.NoError(t, c.Register(ra))
	}
	return c, reg
}

func call(t *testing.T, c *Channel, reg *registry.Registry, key string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ra, ok := reg.Get(key)
	require.True(t, ok)
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName(key)
	req.Params.Arguments = args
	res, err := c.handler(ra)(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func searchAction() *action.Definition {
	return action.MustDefine(action.Config{
		Name:        "search",
		Description: "Search the knowledge base",
		Input:       schema.Object(schema.Props{"query": schema.String().Required()}),
		Triggers:    []trigger.Config{trigger.AsTool("")},
	}, func(ctx *action.Context, input any) (any, error) {
		q := input.(map[string]any)["query"].(string)
		return map[string]any{"hits": []string{q + "-1", q + "-2"}}, nil
	})
}

func TestChannel_RegistersToolsByTrigger(t *testing.T) {
	plain := action.MustDefine(action.Config{Name: "internal"}, func(*action.Context, any) (any, error) { return nil, nil })
	named := action.MustDefine(action.Config{
		Name:     "summarize",
		Triggers: []trigger.Config{trigger.AsTool("summarize_doc")},
	}, func(*action.Context, any) (any, error) { return "ok", nil })

	c, _ := setup(t, nil, searchAction(), plain, named)

	assert.Equal(t, []string{"kb_search", "summarize_doc"}, c.Tools())
	assert.Equal(t, "mcp", c.Name())
}

func TestChannel_CallSuccess(t *testing.T) {
	c, reg := setup(t, nil, searchAction())

	res := call(t, c, reg, "kb.search", map[string]any{"query": "go"})

	assert.False(t, res.IsError)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, []any{"go-1", "go-2"}, out["hits"])
}

func TestChannel_ValidationFailureIsToolError(t *testing.T) {
	c, reg := setup(t, nil, searchAction())

	res := call(t, c, reg, "kb.search", map[string]any{})

	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "VALIDATION_FAILED")
}

func TestChannel_MetaText(t *testing.T) {
	def := action.MustDefine(action.Config{
		Name:     "status",
		Triggers: []trigger.Config{trigger.AsTool("")},
	}, func(ctx *action.Context, _ any) (any, error) {
		return ctx.WithMeta(map[string]any{"ok": true}, action.Meta{MCP: &action.MCPMeta{Text: "All systems go"}}), nil
	})
	c, reg := setup(t, nil, def)

	res := call(t, c, reg, "kb.status", nil)

	assert.False(t, res.IsError)
	assert.Equal(t, "All systems go", text(t, res))
}

func TestChannel_MetaIsError(t *testing.T) {
	def := action.MustDefine(action.Config{
		Name:     "lookup",
		Triggers: []trigger.Config{trigger.AsTool("")},
	}, func(ctx *action.Context, _ any) (any, error) {
		return ctx.WithMeta("nothing matched", action.Meta{MCP: &action.MCPMeta{IsError: true}}), nil
	})
	c, reg := setup(t, nil, def)

	res := call(t, c, reg, "kb.lookup", nil)

	assert.True(t, res.IsError)
	assert.Equal(t, "nothing matched", text(t, res))
}

func TestChannel_Identity(t *testing.T) {
	def := action.MustDefine(action.Config{
		Name:     "whoami",
		Guards:   guard.Sequential(guard.RequireAuth()),
		Triggers: []trigger.Config{trigger.AsTool("")},
	}, func(ctx *action.Context, _ any) (any, error) {
		return ctx.Auth.Subject, nil
	})

	c, reg := setup(t, nil, def)
	res := call(t, c, reg, "kb.whoami", nil)
	assert.True(t, res.IsError, "anonymous call should be rejected")

	c, reg = setup(t, []Option{WithIdentity(func(context.Context) *action.Identity {
		return &action.Identity{Subject: "agent-7"}
	})}, def)
	res = call(t, c, reg, "kb.whoami", nil)
	assert.False(t, res.IsError)
	assert.Equal(t, "agent-7", text(t, res))
}

func TestChannel_PanicMessageHidden(t *testing.T) {
	def := action.MustDefine(action.Config{
		Name:     "crash",
		Triggers: []trigger.Config{trigger.AsTool("")},
	}, func(*action.Context, any) (any, error) {
		panic(errors.New("secret stack detail"))
	})
	c, reg := setup(t, nil, def)

	res := call(t, c, reg, "kb.crash", nil)

	assert.True(t, res.IsError)
	assert.NotContains(t, text(t, res), "secret")
	assert.Contains(t, text(t, res), "PANIC")
}

func TestChannel_DuplicateToolName(t *testing.T) {
	reg := registry.New()
	for _, n := range []string{"a", "b"} {
		require.NoError(t, reg.RegisterAction(action.MustDefine(action.Config{
			Name:     n,
			Triggers: []trigger.Config{trigger.AsTool("same")},
		}, func(*action.Context, any) (any, error) { return nil, nil })))
	}
	c := New(runtime.New(reg), "t", "0")
	a, _ := reg.Get("a")
	b, _ := reg.Get("b")
	require.NoError(t, c.Register(a))
	assert.Error(t, c.Register(b))
}

func TestRender(t *testing.T) {
	s, err := render(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", s)

	s, err = render("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	_, err = render(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "billing_refund", ToolName("billing.refund"))
}

func TestChannel_ResetAllowsRebind(t *testing.T) {
	c, reg := setup(t, nil, searchAction())
	require.Equal(t, []string{"kb_search"}, c.Tools())

	c.Reset()
	assert.Empty(t, c.Tools())

	ra, _ := reg.Get("kb.search")
	require.NoError(t, c.Register(ra))
	assert.Equal(t, []string{"kb_search"}, c.Tools())
}
