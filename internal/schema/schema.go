// Package schema derives JSON Schemas for tool parameters from Go struct
// types, so local tools declare their input as an ordinary struct.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// objectSchema is the wire shape tool catalogues expect.
type objectSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Generate derives the parameter schema for a Go struct type T from its
// json and jsonschema struct tags.
func Generate[T any]() json.RawMessage {
	var zero T
	root := extractRoot(jsonschema.Reflect(&zero))

	raw, err := json.Marshal(objectSchema{
		Type:       "object",
		Properties: properties(root),
		Required:   root.Required,
	})
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

// extractRoot resolves the reflected root, which invopop/jsonschema hides
// behind a $ref into $defs.
func extractRoot(s *jsonschema.Schema) *jsonschema.Schema {
	if s.Ref != "" && s.Definitions != nil {
		for _, def := range s.Definitions {
			if def.Type == "object" {
				return def
			}
		}
	}
	return s
}

func properties(s *jsonschema.Schema) map[string]any {
	if s.Properties == nil {
		return nil
	}
	props := make(map[string]any)
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = property(pair.Value)
	}
	return props
}

func property(s *jsonschema.Schema) map[string]any {
	m := make(map[string]any)

	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}

	// Pointer fields reflect as anyOf with a null branch.
	if len(s.AnyOf) > 0 {
		for _, sub := range s.AnyOf {
			if sub.Type != "null" && sub.Type != "" {
				m["type"] = sub.Type
				break
			}
		}
	}

	if s.Properties != nil {
		m["type"] = "object"
		m["properties"] = properties(s)
		if len(s.Required) > 0 {
			m["required"] = s.Required
		}
	}

	if s.Items != nil {
		m["items"] = property(s.Items)
	}

	return m
}
