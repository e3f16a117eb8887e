package mcp

import (
	"context"
	"encoding/json"
)

// ToolInfo describes a tool discovered from an MCP server.
type ToolInfo struct {
	// Name is the tool's name as reported by the server.
	Name string `json:"name"`

	// Description is a human-readable description of the tool.
	Description string `json:"description"`

	// InputSchema is the raw JSON schema for the tool's input.
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Transport is the byte-level connection to one MCP server. Implementations
// deliver every decoded inbound frame on the Frames channel and close it
// when the connection ends.
type Transport interface {
	// Start establishes the connection (spawns the subprocess or opens the
	// event stream) and launches the background receive loop.
	Start(ctx context.Context) error

	// Send writes one JSON frame to the server.
	Send(ctx context.Context, frame []byte) error

	// Frames returns the channel of decoded inbound frames. The channel is
	// closed when the receive loop exits.
	Frames() <-chan json.RawMessage

	// Stop tears the connection down. It is idempotent and safe to call
	// concurrently; every teardown step is best-effort.
	Stop() error
}

// NewTransport selects a Transport from the config's shape: a URL means the
// remote event-stream transport, a command means a local subprocess.
func NewTransport(cfg ServerConfig) (Transport, error) {
	if cfg.URL != "" {
		return NewSSETransport(cfg)
	}
	if cfg.Command != "" {
		return NewStdioTransport(cfg)
	}
	return nil, ErrInvalidConfig
}
