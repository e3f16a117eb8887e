package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

const (
	defaultLMStudioBase = "http://localhost:1234/v1"

	// lmstudioMaxRounds bounds the internal round trips while the model
	// keeps requesting tools within one generation turn.
	lmstudioMaxRounds = 8
)

// lmstudioProvider drives a local LM Studio server through its
// OpenAI-compatible endpoint. LM Studio expects tools to be executed
// inside the turn, so each catalogue entry becomes a recorder closure:
// invoking it captures the call into a shared buffer and hands the model a
// placeholder result, leaving real dispatch to the caller.
type lmstudioProvider struct {
	cfg    Config
	client *goopenai.Client
	logger *slog.Logger
}

func newLMStudio(cfg Config, logger *slog.Logger) *lmstudioProvider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = defaultLMStudioBase
	if cfg.APIBase != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.APIBase, "/")
	}
	return &lmstudioProvider{
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

func (p *lmstudioProvider) Name() string { return "lmstudio" }

// toolCallBuffer collects the calls every recorder closure captures during
// one generation turn.
type toolCallBuffer struct {
	mu    sync.Mutex
	calls []chat.ToolCall
}

func (b *toolCallBuffer) record(call chat.ToolCall) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	return `{"status":"queued"}`
}

func (b *toolCallBuffer) all() []chat.ToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// recorderFor builds the closure that captures calls to one catalogue
// entry.
func recorderFor(buffer *toolCallBuffer, def chat.FunctionDef) func(id, arguments string) string {
	name := def.Name
	return func(id, arguments string) string {
		return buffer.record(chat.ToolCall{
			ID:   id,
			Type: "function",
			Function: chat.FunctionCall{
				Name:      name,
				Arguments: repairArguments(arguments),
			},
		})
	}
}

func (p *lmstudioProvider) Generate(ctx context.Context, req Request) Result {
	buffer := &toolCallBuffer{}
	recorders := make(map[string]func(id, arguments string) string, len(req.Functions))
	for _, def := range req.Functions {
		recorders[def.Name] = recorderFor(buffer, def)
	}

	messages := toOpenAIMessages(req.Conversation)
	tools := toOpenAITools(req.Functions)

	var text strings.Builder
	var usage Usage
	for round := 0; round < lmstudioMaxRounds; round++ {
		request := goopenai.ChatCompletionRequest{
			Model:    p.cfg.Model,
			Messages: messages,
			Tools:    tools,
		}
		if p.cfg.Temperature != nil {
			request.Temperature = *p.cfg.Temperature
		}
		if p.cfg.MaxTokens > 0 {
			request.MaxTokens = p.cfg.MaxTokens
		}

		resp, err := p.client.CreateChatCompletion(ctx, request)
		if err != nil {
			p.logger.Error("chat completion failed", "provider", p.Name(), "error", err)
			return errorResult("LM Studio", err)
		}
		usage.InputTokens += resp.Usage.PromptTokens
		usage.OutputTokens += resp.Usage.CompletionTokens
		if len(resp.Choices) == 0 {
			break
		}

		choice := resp.Choices[0].Message
		if choice.Content != "" {
			text.WriteString(choice.Content)
		}
		if len(choice.ToolCalls) == 0 {
			break
		}

		// Record each requested call and answer it with the recorder's
		// placeholder so the model can finish its turn.
		messages = append(messages, choice)
		for _, tc := range choice.ToolCalls {
			recorder, ok := recorders[tc.Function.Name]
			placeholder := `{"error":"unknown tool"}`
			if ok {
				placeholder = recorder(tc.ID, tc.Function.Arguments)
			} else {
				p.logger.Warn("model requested unknown tool",
					"provider", p.Name(), "tool", tc.Function.Name)
			}
			messages = append(messages, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    placeholder,
				ToolCallID: tc.ID,
			})
		}
	}

	return Result{
		AssistantText: text.String(),
		ToolCalls:     buffer.all(),
		Usage:         usage,
	}
}

func (p *lmstudioProvider) GenerateStream(ctx context.Context, req Request) <-chan Chunk {
	return streamFromResult(p.Generate(ctx, req))
}
