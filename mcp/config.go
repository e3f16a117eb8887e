// Package mcp implements a client runtime for the Model Context Protocol:
// transports to individual tool servers, a JSON-RPC session per server, and
// a router that aggregates every server's tools into one namespaced
// catalogue and dispatches calls by name.
package mcp

// ServerConfig describes how to reach a single MCP server. The transport is
// selected from the config's shape: a URL means the remote event-stream
// transport, a command means a local subprocess.
type ServerConfig struct {
	// Command is the executable to spawn (stdio transport only).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are command-line arguments for the subprocess.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env are extra environment variables for the subprocess, merged over
	// the parent environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Cwd is the subprocess working directory. Empty means inherit.
	Cwd string `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// URL is the server address (SSE transport).
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Headers are static headers sent with every request (SSE transport).
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}
