// Package chat defines the wire-level conversation types shared by the
// agent loop, the tool router, and the provider adapters. Messages use the
// OpenAI-shaped envelope (role/content/tool_calls) as the common currency;
// providers that speak a different dialect translate at their boundary.
package chat

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in a conversation. The conversation is
// append-only: messages are never reordered or rewritten once added.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool-role messages carrying the result
	// of a previously requested call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a generation backend's request to invoke one named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the namespaced function name and its arguments.
// Arguments is always a string-encoded JSON object; backends that produce
// structured arguments marshal them before returning.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentMap decodes the arguments payload into a map. Malformed or empty
// payloads decode to an empty map rather than an error; by the time a call
// reaches dispatch, repair has already had its chance.
func (f FunctionCall) ArgumentMap() map[string]any {
	args := make(map[string]any)
	if f.Arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return make(map[string]any)
	}
	return args
}

// FunctionDef is one entry in the aggregated function catalogue exposed to
// generation backends. Parameters holds the tool's JSON schema verbatim as
// reported by its server.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message with optional tool calls.
func AssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult builds a tool-role message tagged with the originating call id.
func ToolResult(callID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Name: name, Content: content}
}
