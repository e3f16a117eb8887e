package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

// The first round requests a tool; the recorder answers with a placeholder
// and the second round produces the final text. The real call must end up
// in the result for the caller to dispatch.
func TestLMStudioGenerateRecordsToolCalls(t *testing.T) {
	var round atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if round.Add(1) == 1 {
			w.Write([]byte(`{
				"id": "cmpl-1",
				"object": "chat.completion",
				"choices": [{
					"index": 0,
					"message": {
						"role": "assistant",
						"content": "",
						"tool_calls": [{
							"id": "call_1",
							"type": "function",
							"function": {"name": "web_search", "arguments": "{\"query\":\"go\"}"}
						}]
					},
					"finish_reason": "tool_calls"
				}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 4}
			}`))
			return
		}

		// The placeholder result must have come back as a tool message.
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "queued")
		w.Write([]byte(`{
			"id": "cmpl-2",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Found it."},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 14, "completion_tokens": 3}
		}`))
	}))
	defer server.Close()

	p := newLMStudio(Config{Provider: "lmstudio", Model: "qwen2.5", APIBase: server.URL}, slog.Default())
	result := p.Generate(context.Background(), Request{
		Conversation: []chat.Message{chat.UserMessage("search for go")},
		Functions: []chat.FunctionDef{{
			Name:        "web_search",
			Description: "Search the web",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
		}},
	})

	assert.Equal(t, "Found it.", result.AssistantText)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "web_search", result.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"go"}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, Usage{InputTokens: 24, OutputTokens: 7}, result.Usage)
	assert.EqualValues(t, 2, round.Load())
}

func TestToolCallBufferRecordsInOrder(t *testing.T) {
	buffer := &toolCallBuffer{}
	record := recorderFor(buffer, chat.FunctionDef{Name: "web_search"})

	placeholder := record("call_1", `{"query":"go"`)
	assert.JSONEq(t, `{"status":"queued"}`, placeholder)
	record("call_2", ``)

	calls := buffer.all()
	require.Len(t, calls, 2)
	assert.JSONEq(t, `{"query":"go"}`, calls[0].Function.Arguments)
	assert.JSONEq(t, `{}`, calls[1].Function.Arguments)
}
