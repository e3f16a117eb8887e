package mcp

import "encoding/json"

const (
	jsonrpcVersion = "2.0"

	// protocolVersion is the MCP revision this client negotiates.
	protocolVersion = "2024-11-05"

	codeMethodNotFound = -32601
)

// rpcRequest is an outbound JSON-RPC request or notification. A nil ID
// marks a notification.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcMessage is any inbound JSON-RPC frame: a response (Result or Error
// set), a server-initiated request (Method and ID set), or a notification
// (Method set, no ID).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// isResponse reports whether the frame correlates to an outbound request.
func (m *rpcMessage) isResponse() bool {
	return m.ID != nil && (m.Result != nil || m.Error != nil)
}

// errorReply builds the standard reply for a server-initiated request the
// client does not implement.
type errorReply struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      *int64    `json:"id"`
	Error   *rpcError `json:"error"`
}

func methodNotFoundReply(id *int64, method string) errorReply {
	return errorReply{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error: &rpcError{
			Code:    codeMethodNotFound,
			Message: "Method " + method + " not implemented in client",
		},
	}
}
