// Command mcpflow runs one-shot queries against the tool servers in a
// local configuration.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	mcpflow "github.com/zhangxiaoyao391/MCP-Flow"
)

var (
	flagConfig     string
	flagMCPConfig  string
	flagModel      string
	flagServers    []string
	flagMessageLog string
	flagOneStep    bool
	flagNoStream   bool
	flagVerbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "mcpflow",
		Short:         "Run model conversations against MCP tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", mcpflow.DefaultProviderConfigPath, "model registry (YAML)")
	root.PersistentFlags().StringVarP(&flagMCPConfig, "mcp-config", "m", mcpflow.DefaultServerConfigPath, "server registry (JSON)")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "model name or title to use")
	root.PersistentFlags().StringSliceVar(&flagServers, "server", nil, "only start the named servers")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	query := &cobra.Command{
		Use:   "query [text]",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
	query.Flags().StringVar(&flagMessageLog, "message-log", "", "record the transcript to a JSONL file")
	query.Flags().BoolVar(&flagOneStep, "one-step", false, "stop after the first generation round")
	query.Flags().BoolVar(&flagNoStream, "no-stream", false, "buffer the full answer instead of streaming")

	tools := &cobra.Command{
		Use:   "tools",
		Short: "List every tool the configured servers expose",
		RunE:  runTools,
	}

	root.AddCommand(query, tools)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newAgent(cmd *cobra.Command) (*mcpflow.Agent, error) {
	opts := []mcpflow.Option{
		mcpflow.WithProviderConfigPath(flagConfig),
		mcpflow.WithServerConfigPath(flagMCPConfig),
		mcpflow.WithModel(flagModel),
		mcpflow.WithLogger(logger()),
	}
	if len(flagServers) > 0 {
		opts = append(opts, mcpflow.WithServers(flagServers...))
	}
	if flagMessageLog != "" {
		opts = append(opts, mcpflow.WithMessageLog(flagMessageLog))
	}
	return mcpflow.New(cmd.Context(), opts...)
}

func runQuery(cmd *cobra.Command, args []string) error {
	agent, err := newAgent(cmd)
	if err != nil {
		return err
	}
	defer agent.Cleanup()

	var promptOpts []mcpflow.PromptOption
	if flagOneStep {
		promptOpts = append(promptOpts, mcpflow.WithOneStep())
	}

	prompt := args[0]
	for _, arg := range args[1:] {
		prompt += " " + arg
	}

	if flagNoStream {
		answer, err := agent.Prompt(cmd.Context(), prompt, promptOpts...)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	stream := agent.PromptStream(cmd.Context(), prompt, promptOpts...)
	for stream.Next() {
		fmt.Print(stream.Current())
	}
	fmt.Println()
	return stream.Err()
}

func runTools(cmd *cobra.Command, _ []string) error {
	agent, err := newAgent(cmd)
	if err != nil {
		return err
	}
	defer agent.Cleanup()

	for _, def := range agent.Catalogue() {
		fmt.Printf("%s\n    %s\n", def.Name, def.Description)
	}
	return nil
}
