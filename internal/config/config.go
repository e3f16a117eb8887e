// Package config loads the two configuration files the runtime reads: the
// YAML model registry and the JSON server registry.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/zhangxiaoyao391/MCP-Flow/mcp"
	"github.com/zhangxiaoyao391/MCP-Flow/provider"
)

// DefaultSystemMessage seeds the conversation when no config supplies one.
const DefaultSystemMessage = "You are a helpful assistant."

// ErrNoModels is returned when the model registry holds no entries.
var ErrNoModels = errors.New("config: no models configured")

// ProviderFile is the parsed YAML model registry.
type ProviderFile struct {
	Models []provider.Config `yaml:"models" json:"models"`
}

// LoadProviderConfig reads the YAML model registry.
func LoadProviderConfig(path string) (*ProviderFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var file ProviderFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &file, nil
}

// ChooseModel selects a model entry: an explicit name matches on model or
// title, otherwise the entry marked default wins, otherwise the first.
func ChooseModel(file *ProviderFile, name string) (provider.Config, error) {
	if len(file.Models) == 0 {
		return provider.Config{}, ErrNoModels
	}
	if name != "" {
		for _, m := range file.Models {
			if m.Model == name || m.Title == name {
				return m, nil
			}
		}
		return provider.Config{}, fmt.Errorf("config: model %q not found", name)
	}
	for _, m := range file.Models {
		if m.Default {
			return m, nil
		}
	}
	return file.Models[0], nil
}

// serverFile is the parsed JSON server registry.
type serverFile struct {
	MCPServers map[string]mcp.ServerConfig `json:"mcpServers"`
}

// LoadServerConfig reads the JSON server registry.
func LoadServerConfig(path string) (map[string]mcp.ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var file serverFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(file.MCPServers) == 0 {
		return nil, fmt.Errorf("config: %s defines no servers", path)
	}
	return file.MCPServers, nil
}

// SystemMessages assembles the system prompt for a model entry: the inline
// message, the single file, then every glob match, each file prefixed with
// its path so the model can tell the sources apart. Missing files are
// skipped. With nothing configured, the default message stands alone.
func SystemMessages(cfg provider.Config) []string {
	var messages []string
	if cfg.SystemMessage != "" {
		messages = append(messages, cfg.SystemMessage)
	}
	if cfg.SystemMessageFile != "" {
		if content, err := os.ReadFile(cfg.SystemMessageFile); err == nil {
			messages = append(messages, string(content))
		}
	}
	for _, pattern := range cfg.SystemMessageFiles {
		for _, path := range expandGlob(pattern) {
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			messages = append(messages, "File: "+path+"\n"+string(content))
		}
	}
	if len(messages) == 0 {
		messages = append(messages, DefaultSystemMessage)
	}
	return messages
}

// expandGlob resolves a doublestar pattern relative to its base directory.
// A pattern without meta characters is returned as-is so plain paths work.
func expandGlob(pattern string) []string {
	if !strings.ContainsAny(pattern, "*?[{") {
		return []string{pattern}
	}
	base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
	matches, err := doublestar.Glob(os.DirFS(base), rest)
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(base, m))
	}
	return paths
}
