package mcp

import "errors"

// Sentinel errors for the MCP package.
var (
	// ErrInvalidConfig is returned when a ServerConfig has neither a
	// command nor a URL.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrNotStarted is returned when sending through a transport that has
	// not been started or has already been stopped.
	ErrNotStarted = errors.New("mcp: transport not started")

	// ErrNotReady is returned when calling a session that never completed
	// its initialize handshake.
	ErrNotReady = errors.New("mcp: session not ready")

	// ErrCallTimeout is returned when no correlated response arrives
	// within the call deadline.
	ErrCallTimeout = errors.New("mcp: call timed out")

	// ErrNoServers is returned by the router when not a single configured
	// server could be started.
	ErrNoServers = errors.New("mcp: no servers could be started")
)
