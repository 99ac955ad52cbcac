// Package mcp exposes actions with tool triggers as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/artpar/actionkit/core/action"
	"github.com/artpar/actionkit/core/channel"
	"github.com/artpar/actionkit/core/failure"
	"github.com/artpar/actionkit/core/registry"
	"github.com/artpar/actionkit/core/runtime"
	"github.com/artpar/actionkit/core/trigger"
)

var emptyObject = json.RawMessage(`{"type":"object"}`)

// IdentityFunc resolves the caller of a tool call from its context.
type IdentityFunc func(ctx context.Context) *action.Identity

// Channel serves tool triggers over MCP.
type Channel struct {
	exec     channel.Executor
	server   *server.MCPServer
	identity IdentityFunc
	logger   zerolog.Logger

	mu    sync.Mutex
	tools map[string]string // tool name -> action key
}

// Option configures a Channel.
type Option func(*Channel)

func WithIdentity(fn IdentityFunc) Option {
	return func(c *Channel) { c.identity = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates an MCP channel announcing itself as name/version.
func New(exec channel.Executor, name, version string, opts ...Option) *Channel {
	c := &Channel{
		exec:   exec,
		server: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		logger: zerolog.Nop(),
		tools:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Name() string {
	return "mcp"
}

// Server exposes the underlying MCP server.
func (c *Channel) Server() *server.MCPServer {
	return c.server
}

// Tools returns the registered tool names, sorted.
func (c *Channel) Tools() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolNames()
}

func (c *Channel) toolNames() []string {
	names := make([]string, 0, len(c.tools))
	for n := range c.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToolName derives a tool name from an action key. Dots are not allowed in
// most clients' tool names.
func ToolName(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// Register adds a tool for every tool trigger of ra.
func (c *Channel) Register(ra *registry.RegisteredAction) error {
	for _, tr := range ra.Triggers {
		if tr.Type != trigger.Tool {
			continue
		}
		name := tr.Name
		if name == "" {
			name = ToolName(ra.Key)
		}
		inputSchema := emptyObject
		if in := ra.Definition.Input(); in != nil {
			raw, err := in.JSON()
			if err != nil {
				return fmt.Errorf("tool %q: input schema: %w", name, err)
			}
			inputSchema = raw
		}

		c.mu.Lock()
		prev, dup := c.tools[name]
		if !dup {
			c.tools[name] = ra.Key
		}
		c.mu.Unlock()
		if dup {
			return fmt.Errorf("tool %q already bound to %q, cannot bind %q", name, prev, ra.Key)
		}

		c.server.AddTool(mcp.NewToolWithRawSchema(name, ra.Definition.Description(), inputSchema), c.handler(ra))
		c.logger.Debug().Str("tool", name).Str("action", ra.Key).Msg("tool registered")
	}
	return nil
}

// Reset removes every registered tool from the server.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if names := c.toolNames(); len(names) > 0 {
		c.server.DeleteTools(names...)
	}
	c.tools = make(map[string]string)
}

func (c *Channel) handler(ra *registry.RegisteredAction) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input := req.GetArguments()
		if input == nil {
			input = map[string]any{}
		}
		opts := runtime.Options{Trigger: trigger.Tool}
		if c.identity != nil {
			opts.Auth = c.identity(ctx)
		}

		res := c.exec.Execute(ctx, ra, input, opts)

		if !res.Success {
			msg := res.Error
			if failure.KindOf(res.Err) == failure.KindPanic {
				msg = "internal error"
			}
			return mcp.NewToolResultError(fmt.Sprintf("%s (code %s, trace %s)", msg, failure.CodeOf(res.Err), res.TraceID)), nil
		}

		var m *action.MCPMeta
		if res.Meta != nil {
			m = res.Meta.MCP
		}
		if m != nil && m.Text != "" {
			if m.IsError {
				return mcp.NewToolResultError(m.Text), nil
			}
			return mcp.NewToolResultText(m.Text), nil
		}

		text, err := render(res.Data)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		if m != nil && m.IsError {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func render(data any) (string, error) {
	switch v := data.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ServeStdio serves the tools on stdin and stdout.
func (c *Channel) ServeStdio() error {
	return server.ServeStdio(c.server)
}

// ServeSSE serves the tools over SSE on addr until ctx is done.
func (c *Channel) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := server.NewSSEServer(c.server, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		c.logger.Info().Str("addr", addr).Msg("MCP server listening (SSE)")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stop MCP server: %w", err)
		}
		return nil
	}
}
