package mcpflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zhangxiaoyao391/MCP-Flow/chat"
	"github.com/zhangxiaoyao391/MCP-Flow/internal/config"
	"github.com/zhangxiaoyao391/MCP-Flow/internal/usage"
	"github.com/zhangxiaoyao391/MCP-Flow/mcp"
	"github.com/zhangxiaoyao391/MCP-Flow/provider"
)

// toolRouter is the surface the agent drives tools through. mcp.Router
// implements it.
type toolRouter interface {
	Catalogue() []chat.FunctionDef
	Dispatch(ctx context.Context, call chat.ToolCall) chat.Message
	StopAll()
}

// Agent holds one conversation against a model backend and the tool
// servers it may call. Prompt and PromptStream extend the conversation;
// Cleanup shuts the servers down and optionally records the transcript.
type Agent struct {
	id     string
	gen    provider.Provider
	router toolRouter
	cfg    provider.Config
	logger *slog.Logger

	tracker          *usage.Tracker
	messageLogPath   string
	maxTurns         int
	streamBufferSize int

	mu           sync.Mutex
	conversation []chat.Message
	closed       bool
	cleanupOnce  sync.Once
	cleanupErr   error
}

// New builds an Agent: it selects a model from the provider registry,
// connects every configured server, and seeds the conversation with the
// model's system messages.
func New(ctx context.Context, opts ...Option) (*Agent, error) {
	o := resolveOptions(opts)

	cfg, err := chooseProvider(o)
	if err != nil {
		return nil, err
	}

	router := mcp.NewRouter(mcp.WithRouterLogger(o.logger))
	serverConfigs, err := chooseServers(o)
	if err != nil && len(o.localTools) == 0 {
		return nil, err
	}
	if len(serverConfigs) > 0 {
		if err := router.Start(ctx, serverConfigs, o.serverNames); err != nil && len(o.localTools) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrNoToolRouter, err)
		}
	} else if len(o.localTools) == 0 {
		return nil, ErrNoToolRouter
	}
	for server, tools := range o.localTools {
		router.RegisterLocal(server, tools...)
	}

	a := &Agent{
		id:               generateID("agt"),
		gen:              provider.New(cfg, o.logger),
		router:           router,
		cfg:              cfg,
		logger:           o.logger,
		tracker:          usage.NewTracker(nil),
		messageLogPath:   o.messageLogPath,
		maxTurns:         o.maxTurns,
		streamBufferSize: o.streamBufferSize,
	}
	for _, msg := range config.SystemMessages(cfg) {
		a.conversation = append(a.conversation, chat.SystemMessage(msg))
	}

	o.logger.Info("agent ready", "agent", a.id,
		"provider", cfg.Provider, "model", cfg.Model, "servers", router.Servers())
	return a, nil
}

func chooseProvider(o options) (provider.Config, error) {
	if o.providerConfig != nil {
		return *o.providerConfig, nil
	}
	file, err := config.LoadProviderConfig(o.providerConfigPath)
	if err != nil {
		return provider.Config{}, err
	}
	return config.ChooseModel(file, o.modelName)
}

func chooseServers(o options) (map[string]mcp.ServerConfig, error) {
	if o.serverConfigs != nil {
		return o.serverConfigs, nil
	}
	return config.LoadServerConfig(o.serverConfigPath)
}

// Prompt runs the tool loop for one user query and returns the model's
// final text. Tool calls requested by the model are dispatched and their
// results fed back until the model answers in plain text or the turn cap
// is reached.
func (a *Agent) Prompt(ctx context.Context, query string, opts ...PromptOption) (string, error) {
	var popts promptOptions
	for _, fn := range opts {
		fn(&popts)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}
	a.conversation = append(a.conversation, chat.UserMessage(query))

	var finalText string
	for turn := 0; turn < a.maxTurns; turn++ {
		result := a.gen.Generate(ctx, provider.Request{
			Conversation: a.conversation,
			Functions:    a.router.Catalogue(),
		})
		a.record(result.Usage)
		finalText = result.AssistantText
		a.conversation = append(a.conversation, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   result.AssistantText,
			ToolCalls: result.ToolCalls,
		})
		if len(result.ToolCalls) == 0 {
			return finalText, nil
		}

		a.dispatchAll(ctx, result.ToolCalls)
		if popts.oneStep {
			return finalText, nil
		}
		if err := ctx.Err(); err != nil {
			return finalText, err
		}
	}

	a.logger.Warn("tool loop reached turn cap", "agent", a.id, "turns", a.maxTurns)
	return finalText, nil
}

// PromptStream runs the same tool loop but yields assistant text as it
// arrives. The returned stream ends when the model produces its final
// answer; Err reports what stopped the loop early.
func (a *Agent) PromptStream(ctx context.Context, query string, opts ...PromptOption) *Stream {
	var popts promptOptions
	for _, fn := range opts {
		fn(&popts)
	}

	fragments := make(chan string, a.streamBufferSize)
	s := newStream(fragments)
	go func() {
		defer close(fragments)
		s.err = a.streamLoop(ctx, query, popts, fragments)
	}()
	return s
}

func (a *Agent) streamLoop(ctx context.Context, query string, popts promptOptions, fragments chan<- string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.conversation = append(a.conversation, chat.UserMessage(query))

	for turn := 0; turn < a.maxTurns; turn++ {
		var sawDelta bool
		var terminal provider.Chunk
		for chunk := range a.gen.GenerateStream(ctx, provider.Request{
			Conversation: a.conversation,
			Functions:    a.router.Catalogue(),
		}) {
			if chunk.Delta {
				sawDelta = true
				fragments <- chunk.Text
				continue
			}
			terminal = chunk
		}
		// Backends without native streaming deliver everything in the
		// terminal chunk.
		if !sawDelta && terminal.Text != "" {
			fragments <- terminal.Text
		}
		a.record(terminal.Usage)
		a.conversation = append(a.conversation, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   terminal.Text,
			ToolCalls: terminal.ToolCalls,
		})
		if len(terminal.ToolCalls) == 0 {
			return nil
		}

		a.dispatchAll(ctx, terminal.ToolCalls)
		if popts.oneStep {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	a.logger.Warn("tool loop reached turn cap", "agent", a.id, "turns", a.maxTurns)
	return nil
}

// ProposeToolCalls runs a single generation round and returns the calls
// the model wants to make, without dispatching any of them.
func (a *Agent) ProposeToolCalls(ctx context.Context, query string) ([]chat.ToolCall, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	a.conversation = append(a.conversation, chat.UserMessage(query))

	result := a.gen.Generate(ctx, provider.Request{
		Conversation: a.conversation,
		Functions:    a.router.Catalogue(),
	})
	a.record(result.Usage)
	a.conversation = append(a.conversation, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   result.AssistantText,
		ToolCalls: result.ToolCalls,
	})
	return result.ToolCalls, nil
}

func (a *Agent) dispatchAll(ctx context.Context, calls []chat.ToolCall) {
	for _, call := range calls {
		a.conversation = append(a.conversation, a.router.Dispatch(ctx, call))
	}
}

func (a *Agent) record(u provider.Usage) {
	a.tracker.Record(a.cfg.Model, usage.Counts{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	})
}

// Catalogue returns the namespaced tool catalogue currently exposed to the
// model.
func (a *Agent) Catalogue() []chat.FunctionDef {
	return a.router.Catalogue()
}

// Conversation returns a copy of the conversation so far.
func (a *Agent) Conversation() []chat.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chat.Message(nil), a.conversation...)
}

// Usage returns the cumulative token counts across every generation turn.
func (a *Agent) Usage() usage.Counts {
	return a.tracker.Totals()
}

// Cost returns the cumulative cost in USD for models with known pricing.
func (a *Agent) Cost() decimal.Decimal {
	return a.tracker.TotalCost()
}

// Cleanup shuts every server down and, if configured, records the
// transcript. Idempotent; later calls return the first outcome.
func (a *Agent) Cleanup() error {
	a.cleanupOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		conversation := a.conversation
		a.mu.Unlock()

		if a.messageLogPath != "" {
			if err := a.writeMessageLog(conversation); err != nil {
				a.logger.Error("message log write failed", "agent", a.id, "error", err)
				a.cleanupErr = err
			}
		}
		a.router.StopAll()
	})
	return a.cleanupErr
}

// writeMessageLog records the transcript as two JSONL records: the tool
// catalogue the model saw, then the full message list.
func (a *Agent) writeMessageLog(conversation []chat.Message) error {
	f, err := os.Create(a.messageLogPath)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(map[string]any{"functions": a.router.Catalogue()}); err != nil {
		return err
	}
	return enc.Encode(map[string]any{"messages": conversation})
}
