package mcpflow

import "errors"

// Sentinel errors returned by Agent operations.
var (
	ErrClosed       = errors.New("mcpflow: agent already cleaned up")
	ErrNoToolRouter = errors.New("mcpflow: no tool servers connected")
)
