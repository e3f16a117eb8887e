package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

// conn is the per-server surface the router drives. Session implements it;
// localConn provides the same surface for in-process tools.
type conn interface {
	Start(ctx context.Context) bool
	ListTools(ctx context.Context) []ToolInfo
	CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error)
	Tools() []ToolInfo
	Stop()
}

// newConn builds the connection for one configured server. Swappable so
// router tests can inject fakes.
var newConn = func(name string, cfg ServerConfig, opts ...SessionOption) (conn, error) {
	return NewSession(name, cfg, opts...)
}

// Router owns every server connection and presents their tools as one flat
// catalogue. Tool names are namespaced as {server}_{tool} so the model can
// address any tool on any server without ambiguity.
type Router struct {
	logger      *slog.Logger
	sessionOpts []SessionOption

	mu    sync.RWMutex
	conns map[string]conn
	order []string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router's logger, propagated to every session it
// creates.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
			r.sessionOpts = append(r.sessionOpts, WithSessionLogger(logger))
		}
	}
}

// WithRouterTimeouts overrides the per-session timeouts.
func WithRouterTimeouts(init, call, warn time.Duration) RouterOption {
	return func(r *Router) {
		r.sessionOpts = append(r.sessionOpts, WithTimeouts(init, call, warn))
	}
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		logger: slog.Default(),
		conns:  make(map[string]conn),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start connects every configured server in name order and fetches its
// tool catalogue. When only is non-empty, servers not named in it are
// skipped. Servers that fail to start are logged and dropped; Start fails
// with ErrNoServers only when nothing at all came up.
func (r *Router) Start(ctx context.Context, configs map[string]ServerConfig, only []string) error {
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	names := make([]string, 0, len(configs))
	for name := range configs {
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c, err := newConn(name, configs[name], r.sessionOpts...)
		if err != nil {
			r.logger.Warn("skipping server", "server", name, "error", err)
			continue
		}
		if !c.Start(ctx) {
			r.logger.Warn("skipping server that failed to start", "server", name)
			continue
		}
		tools := c.ListTools(ctx)
		r.logger.Info("server connected", "server", name, "tools", len(tools))

		r.mu.Lock()
		r.conns[name] = c
		r.order = append(r.order, name)
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.conns) == 0 {
		return ErrNoServers
	}
	return nil
}

// RegisterLocal exposes in-process tools under a server name, alongside
// the remote servers.
func (r *Router) RegisterLocal(server string, tools ...LocalTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[server]; !ok {
		r.order = append(r.order, server)
	}
	r.conns[server] = newLocalConn(server, tools)
}

// Catalogue returns every tool from every connected server, namespaced as
// {server}_{tool}, in the order the servers were started.
func (r *Router) Catalogue() []chat.FunctionDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []chat.FunctionDef
	for _, server := range r.order {
		c, ok := r.conns[server]
		if !ok {
			continue
		}
		for _, tool := range c.Tools() {
			params := tool.InputSchema
			if len(params) == 0 {
				params = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			defs = append(defs, chat.FunctionDef{
				Name:        server + "_" + tool.Name,
				Description: tool.Description,
				Parameters:  params,
			})
		}
	}
	return defs
}

// Servers returns the names of connected servers in start order.
func (r *Router) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Dispatch routes one tool call to its server and always produces a tool
// message: results, routing failures, and call errors all come back as
// message content so the conversation can continue.
func (r *Router) Dispatch(ctx context.Context, call chat.ToolCall) chat.Message {
	name := call.Function.Name
	server, tool, found := strings.Cut(name, "_")

	var c conn
	if found {
		r.mu.RLock()
		c = r.conns[server]
		r.mu.RUnlock()
	}
	if c == nil {
		r.logger.Warn("tool call names unknown server", "tool", name)
		return toolError(call, "error server name not in servers")
	}

	args := call.Function.ArgumentMap()
	if missing := missingRequired(c.Tools(), tool, args); missing != "" {
		r.logger.Warn("tool call missing required parameter",
			"server", server, "tool", tool, "parameter", missing)
		return toolError(call, "Missing required parameter: "+missing)
	}

	r.logger.Debug("dispatching tool call", "server", server, "tool", tool)
	result, err := c.CallTool(ctx, tool, args)
	if err != nil {
		r.logger.Error("tool call failed", "server", server, "tool", tool, "error", err)
		return toolError(call, err.Error())
	}
	return chat.ToolResult(call.ID, name, string(result))
}

// StopAll shuts every connection down, in reverse start order.
func (r *Router) StopAll() {
	r.mu.Lock()
	conns := make([]conn, 0, len(r.conns))
	for i := len(r.order) - 1; i >= 0; i-- {
		if c, ok := r.conns[r.order[i]]; ok {
			conns = append(conns, c)
		}
	}
	r.conns = make(map[string]conn)
	r.order = nil
	r.mu.Unlock()

	for _, c := range conns {
		c.Stop()
	}
}

// toolError wraps a routing or call failure as the tool message content.
func toolError(call chat.ToolCall, msg string) chat.Message {
	content, _ := json.Marshal(map[string]string{"error": msg})
	return chat.ToolResult(call.ID, call.Function.Name, string(content))
}

// missingRequired returns the first parameter the tool's schema marks
// required that is absent from the arguments, or "" when all are present.
func missingRequired(tools []ToolInfo, tool string, args map[string]any) string {
	for _, t := range tools {
		if t.Name != tool {
			continue
		}
		var schema struct {
			Required []string `json:"required"`
		}
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return ""
		}
		for _, param := range schema.Required {
			if _, ok := args[param]; !ok {
				return param
			}
		}
		return ""
	}
	return ""
}

// LocalTool is an in-process tool exposed through the router alongside
// remote server tools.
type LocalTool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// localConn adapts a set of local tools to the per-server connection
// surface.
type localConn struct {
	server string
	tools  []LocalTool
	infos  []ToolInfo
}

func newLocalConn(server string, tools []LocalTool) *localConn {
	infos := make([]ToolInfo, len(tools))
	for i, t := range tools {
		schema := t.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		infos[i] = ToolInfo{Name: t.Name, Description: t.Description, InputSchema: schema}
	}
	return &localConn{server: server, tools: tools, infos: infos}
}

func (l *localConn) Start(context.Context) bool           { return true }
func (l *localConn) ListTools(context.Context) []ToolInfo { return l.infos }
func (l *localConn) Tools() []ToolInfo                    { return l.infos }
func (l *localConn) Stop()                                {}

func (l *localConn) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	for _, t := range l.tools {
		if t.Name != name {
			continue
		}
		result, err := t.Handler(ctx, arguments)
		if err != nil {
			return nil, fmt.Errorf("mcp: local tool %s_%s: %w", l.server, name, err)
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("mcp: local tool %s_%s result: %w", l.server, name, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("mcp: local tool %s_%s not found", l.server, name)
}
