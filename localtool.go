package mcpflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zhangxiaoyao391/MCP-Flow/internal/schema"
	"github.com/zhangxiaoyao391/MCP-Flow/mcp"
)

// NewLocalTool builds an in-process tool whose parameter schema is derived
// from the struct type T. The handler receives the model's arguments
// decoded into T.
func NewLocalTool[T any](name, description string, handler func(ctx context.Context, input T) (any, error)) mcp.LocalTool {
	return mcp.LocalTool{
		Name:        name,
		Description: description,
		Schema:      schema.Generate[T](),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("mcpflow: encode arguments for %s: %w", name, err)
			}
			var input T
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, fmt.Errorf("mcpflow: decode arguments for %s: %w", name, err)
			}
			return handler(ctx, input)
		},
	}
}
