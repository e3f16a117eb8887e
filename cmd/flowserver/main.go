// Command flowserver is a small stdio MCP server exposing filesystem
// tools. It doubles as a live test target for the client runtime:
//
//	{"mcpServers": {"files": {"command": "flowserver", "args": ["--root", "/tmp"]}}}
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var root = flag.String("root", ".", "directory the file tools may touch")

func main() {
	flag.Parse()

	s := server.NewMCPServer(
		"flowserver",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	readTool := mcp.NewTool("read_file",
		mcp.WithDescription("Read a file below the served root"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path relative to the served root"),
		),
	)
	s.AddTool(readTool, handleRead)

	listTool := mcp.NewTool("list_dir",
		mcp.WithDescription("List a directory below the served root"),
		mcp.WithString("path",
			mcp.Description("Path relative to the served root; defaults to the root itself"),
		),
	)
	s.AddTool(listTool, handleList)

	writeTool := mcp.NewTool("write_file",
		mcp.WithDescription("Write a file below the served root"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path relative to the served root"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Content to write"),
		),
	)
	s.AddTool(writeTool, handleWrite)

	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}

// resolve joins a relative path onto the root and rejects escapes.
func resolve(rel string) (string, error) {
	joined := filepath.Join(*root, rel)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(*root)
	if err != nil {
		return "", err
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the served root", rel)
	}
	return abs, nil
}

func handleRead(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rel, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := resolve(rel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleList(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rel := request.GetString("path", ".")
	path, err := resolve(rel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func handleWrite(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rel, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := resolve(rel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), rel)), nil
}
