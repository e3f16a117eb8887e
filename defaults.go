package mcpflow

// Default configuration values.
const (
	// DefaultProviderConfigPath is where the YAML model registry is looked
	// up when no path is given.
	DefaultProviderConfigPath = "config.yml"

	// DefaultServerConfigPath is where the JSON server registry is looked
	// up when no path is given.
	DefaultServerConfigPath = "mcp_config.json"

	// DefaultMaxTurns caps the tool loop within one prompt.
	DefaultMaxTurns = 25

	// DefaultStreamBufferSize is the fragment channel capacity for
	// streamed prompts.
	DefaultStreamBufferSize = 64
)
