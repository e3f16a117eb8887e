package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	clientName    = "mcp-flow"
	clientVersion = "1.0.0"

	defaultInitTimeout = 10 * time.Second
	defaultCallTimeout = 120 * time.Second
	defaultSlowWarning = 5 * time.Second

	// shutdownGrace is how long the shutdown notification is given to reach
	// the server before the transport is torn down.
	shutdownGrace = 500 * time.Millisecond
)

// Session lifecycle states.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateReady
	stateShuttingDown
	stateClosed
)

// Session is the JSON-RPC conversation with one MCP server. It owns the
// transport, correlates responses to requests by id, and runs the
// initialize handshake before exposing tools.
type Session struct {
	name      string
	transport Transport
	logger    *slog.Logger

	initTimeout time.Duration
	callTimeout time.Duration
	slowWarning time.Duration

	state  atomic.Int32
	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcMessage

	toolsMu sync.RWMutex
	tools   []ToolInfo

	stopOnce sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeouts overrides the handshake, call, and slow-call-warning
// durations. Zero values keep the defaults.
func WithTimeouts(init, call, warn time.Duration) SessionOption {
	return func(s *Session) {
		if init > 0 {
			s.initTimeout = init
		}
		if call > 0 {
			s.callTimeout = call
		}
		if warn > 0 {
			s.slowWarning = warn
		}
	}
}

// NewSession creates a session for one named server. The transport is
// selected from the config's shape.
func NewSession(name string, cfg ServerConfig, opts ...SessionOption) (*Session, error) {
	transport, err := NewTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("mcp: server %s: %w", name, err)
	}
	return newSession(name, transport, opts...), nil
}

func newSession(name string, transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		name:        name,
		transport:   transport,
		logger:      slog.Default(),
		initTimeout: defaultInitTimeout,
		callTimeout: defaultCallTimeout,
		slowWarning: defaultSlowWarning,
		pending:     make(map[int64]chan *rpcMessage),
	}
	for _, opt := range opts {
		opt(s)
	}
	if lt, ok := transport.(interface{ SetLogger(*slog.Logger) }); ok {
		lt.SetLogger(s.logger)
	}
	return s
}

// Name returns the server name this session is connected to.
func (s *Session) Name() string { return s.name }

// Start connects the transport and runs the initialize handshake. It
// reports success; on any failure the reason is logged and the session is
// left unusable rather than returning an error, so one bad server never
// takes down the rest.
func (s *Session) Start(ctx context.Context) bool {
	if !s.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		return s.state.Load() == stateReady
	}

	if err := s.transport.Start(ctx); err != nil {
		s.logger.Error("server failed to start", "server", s.name, "error", err)
		s.state.Store(stateClosed)
		return false
	}
	go s.receiveLoop()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"sampling": map[string]any{}},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	if _, err := s.call(ctx, "initialize", params, s.initTimeout); err != nil {
		s.logger.Error("initialize handshake failed", "server", s.name, "error", err)
		s.Stop()
		return false
	}
	if err := s.notify(ctx, "notifications/initialized", nil); err != nil {
		s.logger.Error("initialized notification failed", "server", s.name, "error", err)
		s.Stop()
		return false
	}

	s.state.Store(stateReady)
	return true
}

// ListTools fetches the server's tool catalogue. Failures are logged and
// reported as an empty catalogue so the caller can keep going with the
// servers that work.
func (s *Session) ListTools(ctx context.Context) []ToolInfo {
	if s.state.Load() != stateReady {
		return nil
	}
	result, err := s.call(ctx, "tools/list", nil, s.initTimeout)
	if err != nil {
		s.logger.Error("tools/list failed", "server", s.name, "error", err)
		return nil
	}
	var payload struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		s.logger.Error("tools/list returned malformed result", "server", s.name, "error", err)
		return nil
	}
	s.toolsMu.Lock()
	s.tools = payload.Tools
	s.toolsMu.Unlock()
	return payload.Tools
}

// Tools returns the catalogue from the most recent ListTools.
func (s *Session) Tools() []ToolInfo {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()
	return s.tools
}

// CallTool invokes one tool on the server and returns the raw result. A
// call still running after the slow-warning threshold is logged; one that
// outlives the call timeout fails with ErrCallTimeout.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	if s.state.Load() != stateReady {
		return nil, fmt.Errorf("mcp: server %s: %w", s.name, ErrNotReady)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	params := map[string]any{"name": name, "arguments": arguments}

	warn := time.AfterFunc(s.slowWarning, func() {
		s.logger.Warn("tool call still running", "server", s.name, "tool", name,
			"after", s.slowWarning)
	})
	defer warn.Stop()

	return s.call(ctx, "tools/call", params, s.callTimeout)
}

// call sends one request and waits for its correlated response. On timeout
// the waiter is deregistered so a late reply is dropped instead of leaking.
func (s *Session) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := make(chan *rpcMessage, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	frame, err := json.Marshal(rpcRequest{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", method, err)
	}
	if err := s.transport.Send(ctx, frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-ch:
		if !ok || msg == nil {
			return nil, fmt.Errorf("mcp: server %s: connection closed during %s", s.name, method)
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("mcp: server %s: %s: %s (code %d)",
				s.name, method, msg.Error.Message, msg.Error.Code)
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("mcp: server %s: %s after %s: %w", s.name, method, timeout, ErrCallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify sends a notification, expecting no reply.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	frame, err := json.Marshal(rpcRequest{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("mcp: marshal %s: %w", method, err)
	}
	return s.transport.Send(ctx, frame)
}

// receiveLoop drains inbound frames until the transport closes its channel.
// Responses resolve their waiting caller; server-initiated requests get a
// method-not-found error back; notifications are dropped.
func (s *Session) receiveLoop() {
	for frame := range s.transport.Frames() {
		var msg rpcMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			s.logger.Debug("dropping malformed frame", "server", s.name, "error", err)
			continue
		}
		switch {
		case msg.isResponse():
			s.deliver(&msg)
		case msg.Method != "" && msg.ID != nil:
			s.rejectRequest(&msg)
		default:
			s.logger.Debug("dropping server notification", "server", s.name, "method", msg.Method)
		}
	}
	s.failPending()
}

func (s *Session) deliver(msg *rpcMessage) {
	s.pendingMu.Lock()
	ch, ok := s.pending[*msg.ID]
	if ok {
		delete(s.pending, *msg.ID)
	}
	s.pendingMu.Unlock()
	if !ok {
		s.logger.Debug("dropping late response", "server", s.name, "id", *msg.ID)
		return
	}
	ch <- msg
}

func (s *Session) rejectRequest(msg *rpcMessage) {
	frame, err := json.Marshal(methodNotFoundReply(msg.ID, msg.Method))
	if err != nil {
		return
	}
	if err := s.transport.Send(context.Background(), frame); err != nil {
		s.logger.Debug("failed to reject server request", "server", s.name, "error", err)
	}
}

// failPending closes every waiter's channel after the connection ends so
// in-flight calls fail promptly instead of waiting out their timeouts.
func (s *Session) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// Stop shuts the session down: a best-effort shutdown notification, a short
// grace period for it to flush, then transport teardown. Idempotent and
// safe to call concurrently.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		wasReady := s.state.Swap(stateShuttingDown) == stateReady
		if wasReady {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			if err := s.notify(ctx, "shutdown", nil); err != nil {
				s.logger.Debug("shutdown notification failed", "server", s.name, "error", err)
			}
			time.Sleep(shutdownGrace)
			cancel()
		}
		if err := s.transport.Stop(); err != nil {
			s.logger.Warn("transport teardown failed", "server", s.name, "error", err)
		}
		s.state.Store(stateClosed)
	})
}
