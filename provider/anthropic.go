package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

const (
	defaultAnthropicMaxTokens = 4096

	// defaultRateLimitSeconds is the minimum spacing between requests when
	// neither the config nor the environment overrides it.
	defaultRateLimitSeconds = 60
)

// anthropicProvider drives the Anthropic Messages API. Requests are spaced
// out by a minimum interval so long tool loops stay under rate limits.
type anthropicProvider struct {
	cfg    Config
	client anthropic.Client
	logger *slog.Logger

	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func newAnthropic(cfg Config, logger *slog.Logger) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &anthropicProvider{
		cfg:      cfg,
		client:   anthropic.NewClient(opts...),
		logger:   logger,
		interval: rateLimitInterval(cfg),
	}
}

// rateLimitInterval resolves the request spacing: config first, then the
// ANTHROPIC_RATE_LIMIT_SECONDS environment variable, then the default.
func rateLimitInterval(cfg Config) time.Duration {
	seconds := cfg.RateLimitSeconds
	if seconds <= 0 {
		if env, err := strconv.Atoi(os.Getenv("ANTHROPIC_RATE_LIMIT_SECONDS")); err == nil && env > 0 {
			seconds = env
		}
	}
	if seconds <= 0 {
		seconds = defaultRateLimitSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (p *anthropicProvider) Name() string { return "anthropic" }

// waitTurn blocks until the minimum interval since the previous request has
// passed.
func (p *anthropicProvider) waitTurn(ctx context.Context) error {
	p.mu.Lock()
	wait := p.interval - time.Since(p.last)
	if wait <= 0 {
		p.last = time.Now()
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.logger.Debug("pacing request", "provider", p.Name(), "wait", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *anthropicProvider) Generate(ctx context.Context, req Request) Result {
	if err := p.waitTurn(ctx); err != nil {
		return errorResult("Anthropic", err)
	}
	msg, err := p.client.Messages.New(ctx, p.messageParams(req))
	if err != nil {
		p.logger.Error("message request failed", "provider", p.Name(), "error", err)
		return errorResult("Anthropic", err)
	}
	return resultFromMessage(msg)
}

func (p *anthropicProvider) GenerateStream(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)

		if err := p.waitTurn(ctx); err != nil {
			result := errorResult("Anthropic", err)
			out <- Chunk{Text: result.AssistantText}
			return
		}

		stream := p.client.Messages.NewStreaming(ctx, p.messageParams(req))
		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				p.logger.Error("stream accumulate failed", "provider", p.Name(), "error", err)
				break
			}
			if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				out <- Chunk{Text: event.Delta.Text, Delta: true}
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Error("stream failed", "provider", p.Name(), "error", err)
			result := errorResult("Anthropic", err)
			out <- Chunk{Text: result.AssistantText}
			return
		}

		result := resultFromMessage(&msg)
		out <- Chunk{
			Text:      result.AssistantText,
			Delta:     false,
			ToolCalls: result.ToolCalls,
			Usage:     result.Usage,
		}
	}()
	return out
}

func (p *anthropicProvider) messageParams(req Request) anthropic.MessageNewParams {
	maxTokens := p.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, messages := splitConversation(req.Conversation)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     toAnthropicTools(req.Functions),
	}
	if system != "" {
		block := anthropic.TextBlockParam{Text: system}
		if p.cfg.CachingEnabled {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	if p.cfg.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*p.cfg.Temperature))
	}
	if p.cfg.TopP != nil {
		params.TopP = anthropic.Float(float64(*p.cfg.TopP))
	}
	if p.cfg.TopK != nil {
		params.TopK = anthropic.Int(int64(*p.cfg.TopK))
	}
	return params
}

// splitConversation lifts system messages into the top-level system prompt
// and converts the rest into Messages API turns. Consecutive tool results
// merge into a single user turn because result blocks must directly follow
// the assistant turn that requested them.
func splitConversation(conversation []chat.Message) (string, []anthropic.MessageParam) {
	var system []string
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range conversation {
		switch m.Role {
		case chat.RoleSystem:
			system = append(system, m.Content)
		case chat.RoleUser:
			flushResults()
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case chat.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks,
					anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Function.Arguments), tc.Function.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case chat.RoleTool:
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
	}
	flushResults()
	return strings.Join(system, "\n\n"), messages
}

func toAnthropicTools(functions []chat.FunctionDef) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(functions))
	for _, f := range functions {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        f.Name,
				Description: anthropic.String(f.Description),
				InputSchema: toAnthropicSchema(f.Parameters),
			},
		})
	}
	return tools
}

func toAnthropicSchema(raw json.RawMessage) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if len(raw) == 0 {
		return schema
	}
	var parsed struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return schema
	}
	schema.Properties = parsed.Properties
	schema.Required = parsed.Required
	return schema
}

func resultFromMessage(msg *anthropic.Message) Result {
	var text strings.Builder
	var calls []chat.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			calls = append(calls, chat.ToolCall{
				ID:   toolUse.ID,
				Type: "function",
				Function: chat.FunctionCall{
					Name:      toolUse.Name,
					Arguments: repairArguments(string(toolUse.Input)),
				},
			})
		}
	}
	return Result{
		AssistantText: text.String(),
		ToolCalls:     calls,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
