package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

const defaultOllamaHost = "http://localhost:11434"

// ollamaProvider drives a local Ollama daemon over its chat endpoint.
// Responses are validated against the daemon's own wire types after a
// repair pass, because some models emit tool calls with the arguments
// field missing entirely.
type ollamaProvider struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func newOllama(cfg Config, logger *slog.Logger) *ollamaProvider {
	base := cfg.APIBase
	if base == "" {
		base = os.Getenv("OLLAMA_HOST")
	}
	if base == "" {
		base = defaultOllamaHost
	}
	return &ollamaProvider{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(base, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  logger,
	}
}

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) Generate(ctx context.Context, req Request) Result {
	body, err := p.post(ctx, p.chatRequest(req, false))
	if err != nil {
		p.logger.Error("chat request failed", "provider", p.Name(), "error", err)
		return errorResult("Ollama", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return errorResult("Ollama", err)
	}
	resp, err := decodeChatResponse(raw)
	if err != nil {
		p.logger.Error("chat response malformed", "provider", p.Name(), "error", err)
		return errorResult("Ollama", err)
	}
	return resultFromChatResponse(resp)
}

func (p *ollamaProvider) GenerateStream(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)

		body, err := p.post(ctx, p.chatRequest(req, true))
		if err != nil {
			p.logger.Error("chat stream failed", "provider", p.Name(), "error", err)
			result := errorResult("Ollama", err)
			out <- Chunk{Text: result.AssistantText}
			return
		}
		defer body.Close()

		var text strings.Builder
		var calls []chat.ToolCall
		var usage Usage
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			resp, err := decodeChatResponse(line)
			if err != nil {
				p.logger.Debug("skipping malformed stream line", "provider", p.Name(), "error", err)
				continue
			}
			if resp.Message.Content != "" {
				text.WriteString(resp.Message.Content)
				out <- Chunk{Text: resp.Message.Content, Delta: true}
			}
			calls = append(calls, fromOllamaToolCalls(resp.Message.ToolCalls, len(calls))...)
			if resp.Done {
				usage = Usage{
					InputTokens:  resp.Metrics.PromptEvalCount,
					OutputTokens: resp.Metrics.EvalCount,
				}
			}
		}
		if err := scanner.Err(); err != nil {
			p.logger.Error("chat stream read failed", "provider", p.Name(), "error", err)
		}

		out <- Chunk{Text: text.String(), Delta: false, ToolCalls: calls, Usage: usage}
	}()
	return out
}

func (p *ollamaProvider) chatRequest(req Request, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Conversation))
	for _, m := range req.Conversation {
		msg := map[string]any{"role": m.Role, "content": m.Content}
		if len(m.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"function": map[string]any{
						"name":      tc.Function.Name,
						"arguments": tc.Function.ArgumentMap(),
					},
				})
			}
			msg["tool_calls"] = calls
		}
		messages = append(messages, msg)
	}

	body := map[string]any{
		"model":    p.cfg.Model,
		"messages": messages,
		"stream":   stream,
	}
	if tools := ollamaTools(req.Functions); len(tools) > 0 {
		body["tools"] = tools
	}
	if options := p.options(); len(options) > 0 {
		body["options"] = options
	}
	return body
}

func (p *ollamaProvider) options() map[string]any {
	options := map[string]any{}
	if p.cfg.Temperature != nil {
		options["temperature"] = *p.cfg.Temperature
	}
	if p.cfg.TopP != nil {
		options["top_p"] = *p.cfg.TopP
	}
	if p.cfg.TopK != nil {
		options["top_k"] = *p.cfg.TopK
	}
	if p.cfg.MaxTokens > 0 {
		options["num_predict"] = p.cfg.MaxTokens
	}
	return options
}

func ollamaTools(functions []chat.FunctionDef) []map[string]any {
	var tools []map[string]any
	for _, f := range functions {
		var params any
		if len(f.Parameters) > 0 {
			_ = json.Unmarshal(f.Parameters, &params)
		}
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        f.Name,
				"description": f.Description,
				"parameters":  params,
			},
		})
	}
	return tools
}

func (p *ollamaProvider) post(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return resp.Body, nil
}

// decodeChatResponse repairs tool calls whose arguments field is absent,
// then unmarshals through the daemon's own response type so anything else
// malformed is rejected rather than silently mis-read.
func decodeChatResponse(raw []byte) (*api.ChatResponse, error) {
	patched, err := patchToolCallArguments(raw)
	if err != nil {
		return nil, err
	}
	var resp api.ChatResponse
	if err := json.Unmarshal(patched, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// patchToolCallArguments inserts an empty arguments object into any tool
// call that lacks one.
func patchToolCallArguments(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	message, ok := doc["message"].(map[string]any)
	if !ok {
		return raw, nil
	}
	calls, ok := message["tool_calls"].([]any)
	if !ok {
		return raw, nil
	}

	patched := false
	for _, c := range calls {
		call, ok := c.(map[string]any)
		if !ok {
			continue
		}
		function, ok := call["function"].(map[string]any)
		if !ok {
			continue
		}
		if args, ok := function["arguments"]; !ok || args == nil {
			function["arguments"] = map[string]any{}
			patched = true
		}
	}
	if !patched {
		return raw, nil
	}
	return json.Marshal(doc)
}

func resultFromChatResponse(resp *api.ChatResponse) Result {
	return Result{
		AssistantText: resp.Message.Content,
		ToolCalls:     fromOllamaToolCalls(resp.Message.ToolCalls, 0),
		Usage: Usage{
			InputTokens:  resp.Metrics.PromptEvalCount,
			OutputTokens: resp.Metrics.EvalCount,
		},
	}
}

// fromOllamaToolCalls converts daemon tool calls, synthesizing ids since
// the daemon does not assign them.
func fromOllamaToolCalls(calls []api.ToolCall, offset int) []chat.ToolCall {
	var out []chat.ToolCall
	for i, tc := range calls {
		args, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		out = append(out, chat.ToolCall{
			ID:   fmt.Sprintf("call_ollama_%d", offset+i),
			Type: "function",
			Function: chat.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: repairArguments(string(args)),
			},
		})
	}
	return out
}
