package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

// openaiProvider drives any OpenAI-compatible chat completion endpoint.
type openaiProvider struct {
	cfg    Config
	client *goopenai.Client
	logger *slog.Logger
}

func newOpenAI(cfg Config, logger *slog.Logger) *openaiProvider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.APIBase, "/")
	}
	return &openaiProvider{
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Generate(ctx context.Context, req Request) Result {
	resp, err := p.client.CreateChatCompletion(ctx, p.completionRequest(req, false))
	if err != nil {
		p.logger.Error("chat completion failed", "provider", p.Name(), "error", err)
		return errorResult("OpenAI", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}
	}

	choice := resp.Choices[0].Message
	return Result{
		AssistantText: choice.Content,
		ToolCalls:     fromOpenAIToolCalls(choice.ToolCalls),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

func (p *openaiProvider) GenerateStream(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)

		stream, err := p.client.CreateChatCompletionStream(ctx, p.completionRequest(req, true))
		if err != nil {
			p.logger.Error("chat completion stream failed", "provider", p.Name(), "error", err)
			result := errorResult("OpenAI", err)
			out <- Chunk{Text: result.AssistantText}
			return
		}
		defer stream.Close()

		var text strings.Builder
		var usage Usage
		assembler := newToolCallAssembler()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				p.logger.Error("stream receive failed", "provider", p.Name(), "error", err)
				break
			}
			if resp.Usage != nil {
				usage = Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				text.WriteString(delta.Content)
				out <- Chunk{Text: delta.Content, Delta: true}
			}
			for _, tc := range delta.ToolCalls {
				assembler.add(tc)
			}
		}

		out <- Chunk{
			Text:      text.String(),
			Delta:     false,
			ToolCalls: assembler.finalize(),
			Usage:     usage,
		}
	}()
	return out
}

func (p *openaiProvider) completionRequest(req Request, stream bool) goopenai.ChatCompletionRequest {
	r := goopenai.ChatCompletionRequest{
		Model:    p.cfg.Model,
		Messages: toOpenAIMessages(req.Conversation),
		Tools:    toOpenAITools(req.Functions),
	}
	if p.cfg.Temperature != nil {
		r.Temperature = *p.cfg.Temperature
	}
	if p.cfg.TopP != nil {
		r.TopP = *p.cfg.TopP
	}
	if p.cfg.MaxTokens > 0 {
		r.MaxTokens = p.cfg.MaxTokens
	}
	if stream {
		r.Stream = true
		r.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	return r
}

func toOpenAIMessages(conversation []chat.Message) []goopenai.ChatCompletionMessage {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(conversation))
	for _, m := range conversation {
		msg := goopenai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == chat.RoleTool {
			msg.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func toOpenAITools(functions []chat.FunctionDef) []goopenai.Tool {
	if len(functions) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(functions))
	for _, f := range functions {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			},
		})
	}
	return tools
}

func fromOpenAIToolCalls(calls []goopenai.ToolCall) []chat.ToolCall {
	var out []chat.ToolCall
	for _, tc := range calls {
		out = append(out, chat.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: chat.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: repairArguments(tc.Function.Arguments),
			},
		})
	}
	return out
}

// toolCallAssembler accumulates streamed tool call fragments. The first
// fragment for an index carries the id and name; later fragments append
// argument text.
type toolCallAssembler struct {
	partial map[int]*partialToolCall
	next    int
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{partial: make(map[int]*partialToolCall)}
}

func (a *toolCallAssembler) add(tc goopenai.ToolCall) {
	index := a.next
	if tc.Index != nil {
		index = *tc.Index
	}

	p, ok := a.partial[index]
	if !ok {
		p = &partialToolCall{}
		a.partial[index] = p
		a.next = index + 1
	}
	if tc.ID != "" {
		p.id = tc.ID
	}
	if tc.Function.Name != "" {
		p.name = tc.Function.Name
	}
	p.args.WriteString(tc.Function.Arguments)
}

// finalize returns the completed calls in index order, dropping fragments
// that never received both an id and a name.
func (a *toolCallAssembler) finalize() []chat.ToolCall {
	indexes := make([]int, 0, len(a.partial))
	for i := range a.partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var calls []chat.ToolCall
	for _, i := range indexes {
		p := a.partial[i]
		if p.id == "" || p.name == "" {
			continue
		}
		calls = append(calls, chat.ToolCall{
			ID:   p.id,
			Type: "function",
			Function: chat.FunctionCall{
				Name:      p.name,
				Arguments: repairArguments(p.args.String()),
			},
		})
	}
	return calls
}
