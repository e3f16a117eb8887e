package mcpflow

import (
	"log/slog"

	"github.com/zhangxiaoyao391/MCP-Flow/mcp"
	"github.com/zhangxiaoyao391/MCP-Flow/provider"
)

// Option configures an Agent via the functional options pattern.
type Option func(*options)

// options holds all configurable fields set via Option functions.
type options struct {
	modelName          string
	providerConfigPath string
	providerConfig     *provider.Config

	serverConfigPath string
	serverConfigs    map[string]mcp.ServerConfig
	serverNames      []string

	localTools map[string][]mcp.LocalTool

	logger           *slog.Logger
	messageLogPath   string
	maxTurns         int
	streamBufferSize int
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (o *options) applyDefaults() {
	if o.providerConfigPath == "" {
		o.providerConfigPath = DefaultProviderConfigPath
	}
	if o.serverConfigPath == "" {
		o.serverConfigPath = DefaultServerConfigPath
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxTurns == 0 {
		o.maxTurns = DefaultMaxTurns
	}
	if o.streamBufferSize == 0 {
		o.streamBufferSize = DefaultStreamBufferSize
	}
}

func resolveOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	o.applyDefaults()
	return o
}

// WithModel selects a model entry by model name or title. Without it, the
// entry marked default in the registry wins.
func WithModel(name string) Option {
	return func(o *options) { o.modelName = name }
}

// WithProviderConfigPath sets the YAML model registry path.
func WithProviderConfigPath(path string) Option {
	return func(o *options) { o.providerConfigPath = path }
}

// WithProviderConfig supplies one model entry directly, bypassing the
// registry file.
func WithProviderConfig(cfg provider.Config) Option {
	return func(o *options) { o.providerConfig = &cfg }
}

// WithServerConfigPath sets the JSON server registry path.
func WithServerConfigPath(path string) Option {
	return func(o *options) { o.serverConfigPath = path }
}

// WithServerConfigs supplies server definitions directly, bypassing the
// registry file.
func WithServerConfigs(configs map[string]mcp.ServerConfig) Option {
	return func(o *options) { o.serverConfigs = configs }
}

// WithServers restricts startup to the named servers. An empty list starts
// every configured server.
func WithServers(names ...string) Option {
	return func(o *options) { o.serverNames = names }
}

// WithLocalTools exposes in-process tools under a server name, alongside
// the configured servers.
func WithLocalTools(server string, tools ...mcp.LocalTool) Option {
	return func(o *options) {
		if o.localTools == nil {
			o.localTools = make(map[string][]mcp.LocalTool)
		}
		o.localTools[server] = append(o.localTools[server], tools...)
	}
}

// WithLogger sets the structured logger used by the agent and everything
// it starts.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMessageLog records the full conversation to a JSONL file during
// Cleanup.
func WithMessageLog(path string) Option {
	return func(o *options) { o.messageLogPath = path }
}

// WithMaxTurns caps the tool loop within one prompt (0 keeps the default).
func WithMaxTurns(n int) Option {
	return func(o *options) { o.maxTurns = n }
}

// PromptOption configures a single Prompt or PromptStream call.
type PromptOption func(*promptOptions)

type promptOptions struct {
	oneStep bool
}

// WithOneStep stops after the first generation round: any requested tools
// are dispatched and their results appended, but the model is not asked to
// continue.
func WithOneStep() PromptOption {
	return func(p *promptOptions) { p.oneStep = true }
}
