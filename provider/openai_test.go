package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Searching now.",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "web_search", "arguments": "{\"query\":\"go\""}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7}
		}`))
	}))
	defer server.Close()

	p := newOpenAI(Config{Provider: "openai", Model: "gpt-4o", APIKey: "k", APIBase: server.URL}, slog.Default())
	result := p.Generate(context.Background(), Request{
		Conversation: []chat.Message{chat.UserMessage("search for go")},
	})

	assert.Equal(t, "Searching now.", result.AssistantText)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "web_search", result.ToolCalls[0].Function.Name)
	// Truncated arguments are repaired, not passed through.
	assert.JSONEq(t, `{"query":"go"}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 7}, result.Usage)
}

func TestOpenAIGenerateErrorBecomesText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newOpenAI(Config{Provider: "openai", Model: "gpt-4o", APIKey: "k", APIBase: server.URL}, slog.Default())
	result := p.Generate(context.Background(), Request{})

	assert.Contains(t, result.AssistantText, "OpenAI error")
	assert.Empty(t, result.ToolCalls)
}

func streamIndex(i int) *int { return &i }

func TestToolCallAssembler(t *testing.T) {
	a := newToolCallAssembler()
	// First fragment carries id and name, later ones only argument text.
	a.add(goopenai.ToolCall{
		Index:    streamIndex(0),
		ID:       "call_1",
		Type:     goopenai.ToolTypeFunction,
		Function: goopenai.FunctionCall{Name: "web_search", Arguments: `{"que`},
	})
	a.add(goopenai.ToolCall{
		Index:    streamIndex(0),
		Function: goopenai.FunctionCall{Arguments: `ry":"go"}`},
	})
	a.add(goopenai.ToolCall{
		Index:    streamIndex(1),
		ID:       "call_2",
		Type:     goopenai.ToolTypeFunction,
		Function: goopenai.FunctionCall{Name: "files_read", Arguments: `{"path":"a.txt"`},
	})

	calls := a.finalize()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.JSONEq(t, `{"query":"go"}`, calls[0].Function.Arguments)
	assert.Equal(t, "call_2", calls[1].ID)
	assert.JSONEq(t, `{"path":"a.txt"}`, calls[1].Function.Arguments)
}

func TestToolCallAssemblerDropsIncompleteFragments(t *testing.T) {
	a := newToolCallAssembler()
	a.add(goopenai.ToolCall{
		Index:    streamIndex(0),
		Function: goopenai.FunctionCall{Arguments: `{"orphan":true}`},
	})
	assert.Empty(t, a.finalize())
}

func TestToOpenAIMessages(t *testing.T) {
	conversation := []chat.Message{
		chat.SystemMessage("be brief"),
		chat.UserMessage("hi"),
		{
			Role: chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: chat.FunctionCall{Name: "web_search", Arguments: `{"query":"go"}`},
			}},
		},
		chat.ToolResult("call_1", "web_search", `{"hits":3}`),
	}

	messages := toOpenAIMessages(conversation)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, "call_1", messages[2].ToolCalls[0].ID)
	assert.Equal(t, "call_1", messages[3].ToolCallID)
	assert.Equal(t, "web_search", messages[3].Name)
}
