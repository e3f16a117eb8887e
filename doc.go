// Package mcpflow runs model-driven conversations against tools exposed by
// MCP servers. An Agent connects to every configured server, presents the
// aggregated tool catalogue to a model backend, and loops tool calls
// through the servers until the model produces a final answer.
//
// Basic usage:
//
//	agent, err := mcpflow.New(ctx,
//	    mcpflow.WithProviderConfigPath("config.yml"),
//	    mcpflow.WithServerConfigPath("mcp_config.json"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer agent.Cleanup()
//
//	answer, err := agent.Prompt(ctx, "What files are in /tmp?")
package mcpflow
