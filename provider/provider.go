// Package provider adapts model backends to one generation contract: a
// conversation plus a function catalogue in, assistant text plus tool call
// requests out, in buffered and streamed form. Backend failures never
// escape as errors; they surface as assistant text so the conversation
// keeps its shape.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
)

// Config describes one model entry from the provider configuration file.
type Config struct {
	// Title is the display name used to select the model by name.
	Title string `yaml:"title" json:"title"`

	// Provider selects the backend: openai, anthropic, ollama, or lmstudio.
	Provider string `yaml:"provider" json:"provider"`

	// Model is the backend's model identifier.
	Model string `yaml:"model" json:"model"`

	APIKey  string `yaml:"apiKey" json:"apiKey"`
	APIBase string `yaml:"apiBase" json:"apiBase"`

	Temperature *float32 `yaml:"temperature" json:"temperature"`
	TopP        *float32 `yaml:"top_p" json:"top_p"`
	TopK        *int     `yaml:"top_k" json:"top_k"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens"`

	// Default marks the entry chosen when no model is named.
	Default bool `yaml:"default" json:"default"`

	SystemMessage      string   `yaml:"systemMessage" json:"systemMessage"`
	SystemMessageFile  string   `yaml:"systemMessageFile" json:"systemMessageFile"`
	SystemMessageFiles []string `yaml:"systemMessageFiles" json:"systemMessageFiles"`

	// RateLimitSeconds is the minimum spacing between requests, for
	// backends that enforce one.
	RateLimitSeconds int `yaml:"rateLimitSeconds" json:"rateLimitSeconds"`

	// CachingEnabled turns on prompt caching for backends that support it.
	CachingEnabled bool `yaml:"cachingEnabled" json:"cachingEnabled"`
}

// Request carries everything a backend needs for one generation turn.
type Request struct {
	Conversation []chat.Message
	Functions    []chat.FunctionDef
}

// Usage counts tokens consumed by a generation turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is a complete generation turn.
type Result struct {
	AssistantText string
	ToolCalls     []chat.ToolCall
	Usage         Usage
}

// Chunk is one streamed piece of a generation turn. Delta chunks carry
// incremental text; the terminal chunk has Delta false and carries the full
// assistant text plus any finalized tool calls.
type Chunk struct {
	Text      string
	Delta     bool
	ToolCalls []chat.ToolCall
	Usage     Usage
}

// Provider is one model backend behind the uniform generation contract.
type Provider interface {
	// Name identifies the backend.
	Name() string

	// Generate runs one buffered generation turn. Backend failures are
	// reported as assistant text, never as an error.
	Generate(ctx context.Context, req Request) Result

	// GenerateStream runs one streamed generation turn. The channel yields
	// delta chunks and always ends with one terminal chunk, then closes.
	GenerateStream(ctx context.Context, req Request) <-chan Chunk
}

// New selects a backend from the config. An unrecognized provider name
// yields a backend whose every turn reports the problem as assistant text.
func New(cfg Config, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "openai":
		return newOpenAI(cfg, logger)
	case "anthropic":
		return newAnthropic(cfg, logger)
	case "ollama":
		return newOllama(cfg, logger)
	case "lmstudio":
		return newLMStudio(cfg, logger)
	default:
		return &unsupported{name: cfg.Provider}
	}
}

// unsupported stands in for a backend the config names but the runtime does
// not implement.
type unsupported struct {
	name string
}

func (u *unsupported) Name() string { return u.name }

func (u *unsupported) Generate(context.Context, Request) Result {
	return Result{AssistantText: fmt.Sprintf("Unsupported provider '%s'", u.name)}
}

func (u *unsupported) GenerateStream(ctx context.Context, req Request) <-chan Chunk {
	return streamFromResult(u.Generate(ctx, req))
}

// streamFromResult wraps a buffered result as a single-terminal-chunk
// stream, for backends without native streaming.
func streamFromResult(result Result) <-chan Chunk {
	ch := make(chan Chunk, 1)
	ch <- Chunk{
		Text:      result.AssistantText,
		Delta:     false,
		ToolCalls: result.ToolCalls,
		Usage:     result.Usage,
	}
	close(ch)
	return ch
}

// errorResult wraps a backend failure as assistant text.
func errorResult(backend string, err error) Result {
	return Result{AssistantText: fmt.Sprintf("%s error: %v", backend, err)}
}
