package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

func TestPatchToolCallArguments(t *testing.T) {
	raw := []byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"web_search"}}]}}`)

	patched, err := patchToolCallArguments(raw)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(patched, &doc))
	function := doc["message"].(map[string]any)["tool_calls"].([]any)[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, map[string]any{}, function["arguments"])
}

func TestPatchToolCallArgumentsLeavesCompleteCallsAlone(t *testing.T) {
	raw := []byte(`{"message":{"tool_calls":[{"function":{"name":"x","arguments":{"a":1}}}]}}`)

	patched, err := patchToolCallArguments(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(patched))
}

func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"stream":false`)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "llama3.2",
			"message": {
				"role": "assistant",
				"content": "Let me look that up.",
				"tool_calls": [{"function": {"name": "web_search"}}]
			},
			"done": true,
			"prompt_eval_count": 20,
			"eval_count": 9
		}`))
	}))
	defer server.Close()

	p := newOllama(Config{Provider: "ollama", Model: "llama3.2", APIBase: server.URL}, slog.Default())
	result := p.Generate(context.Background(), Request{
		Conversation: []chat.Message{chat.UserMessage("search for go")},
	})

	assert.Equal(t, "Let me look that up.", result.AssistantText)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_ollama_0", result.ToolCalls[0].ID)
	assert.Equal(t, "web_search", result.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, Usage{InputTokens: 20, OutputTokens: 9}, result.Usage)
}

func TestOllamaGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}
{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":5,"eval_count":2}
`))
	}))
	defer server.Close()

	p := newOllama(Config{Provider: "ollama", Model: "llama3.2", APIBase: server.URL}, slog.Default())

	var deltas []string
	var terminal Chunk
	for chunk := range p.GenerateStream(context.Background(), Request{}) {
		if chunk.Delta {
			deltas = append(deltas, chunk.Text)
		} else {
			terminal = chunk
		}
	}

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", terminal.Text)
	assert.Equal(t, Usage{InputTokens: 5, OutputTokens: 2}, terminal.Usage)
}

func TestOllamaGenerateErrorBecomesText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	p := newOllama(Config{Provider: "ollama", Model: "missing", APIBase: server.URL}, slog.Default())
	result := p.Generate(context.Background(), Request{})

	assert.Contains(t, result.AssistantText, "Ollama error")
}
