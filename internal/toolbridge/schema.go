// Package toolbridge converts canonical tool definitions between the two
// tool-calling conventions used by the backends, and reassembles streamed
// tool-call argument fragments into complete argument objects.
//
// Canonical definitions use lowercase JSON-Schema type tags. The hosted
// dialect wants uppercase type tags in functionDeclarations; OpenAI-compatible
// backends take the lowercase form as-is. Both conversions are pure and
// total: the closed primitive set maps one-to-one, and unknown or absent
// type tags default to "object" because under-specification is common in
// hand-written tool schemas.
package toolbridge

import (
	"fmt"
	"strings"

	"github.com/wovenai/loom/pkg/types"
)

// schemaTypes is the closed set of canonical type tags.
var schemaTypes = map[string]string{
	"string":  "STRING",
	"number":  "NUMBER",
	"integer": "INTEGER",
	"boolean": "BOOLEAN",
	"array":   "ARRAY",
	"object":  "OBJECT",
}

// ValidateTools checks the session-level uniqueness invariant on tool names.
func ValidateTools(tools []types.ToolDefinition) error {
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("toolbridge: tool with empty name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("toolbridge: duplicate tool name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// HostedDeclaration is one functionDeclarations entry in the hosted dialect.
type HostedDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToHostedDeclarations renders canonical tools into the hosted dialect's
// declaration shape, converting schema type tags to their uppercase forms.
func ToHostedDeclarations(tools []types.ToolDefinition) []HostedDeclaration {
	if len(tools) == 0 {
		return nil
	}
	out := make([]HostedDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, HostedDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  hostedSchema(t.Parameters),
		})
	}
	return out
}

// ToCompatParameters normalizes a canonical parameter schema for an
// OpenAI-compatible declaration: lowercase tags, unknown types coerced to
// "object". The input map is never mutated.
func ToCompatParameters(schema map[string]any) map[string]any {
	return compatSchema(schema)
}

// hostedSchema recursively converts one canonical schema node to the hosted
// shape. Nil input produces an empty object schema.
func hostedSchema(node map[string]any) map[string]any {
	out := map[string]any{"type": hostedType(node)}
	if node == nil {
		return out
	}
	if desc, ok := node["description"].(string); ok && desc != "" {
		out["description"] = desc
	}
	if enum, ok := node["enum"]; ok {
		out["enum"] = enum
	}
	if req, ok := node["required"]; ok {
		out["required"] = req
	}
	if props, ok := node["properties"].(map[string]any); ok {
		converted := make(map[string]any, len(props))
		for name, sub := range props {
			converted[name] = hostedSchema(asSchema(sub))
		}
		out["properties"] = converted
	}
	if items, ok := node["items"]; ok {
		out["items"] = hostedSchema(asSchema(items))
	}
	return out
}

// compatSchema recursively normalizes one canonical schema node for the
// OpenAI-compatible dialect.
func compatSchema(node map[string]any) map[string]any {
	out := map[string]any{"type": compatType(node)}
	if node == nil {
		return out
	}
	for key, value := range node {
		switch key {
		case "type":
			// Already normalized above.
		case "properties":
			if props, ok := value.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, sub := range props {
					converted[name] = compatSchema(asSchema(sub))
				}
				out["properties"] = converted
			}
		case "items":
			out["items"] = compatSchema(asSchema(value))
		default:
			out[key] = value
		}
	}
	return out
}

// hostedType maps a node's type tag to the hosted dialect's uppercase form.
func hostedType(node map[string]any) string {
	if node != nil {
		if tag, ok := node["type"].(string); ok {
			if upper, known := schemaTypes[strings.ToLower(strings.TrimSpace(tag))]; known {
				return upper
			}
		}
	}
	return "OBJECT"
}

// compatType returns a node's normalized lowercase type tag.
func compatType(node map[string]any) string {
	if node != nil {
		if tag, ok := node["type"].(string); ok {
			lower := strings.ToLower(strings.TrimSpace(tag))
			if _, known := schemaTypes[lower]; known {
				return lower
			}
		}
	}
	return "object"
}

// asSchema coerces a subschema value to a map, tolerating malformed input.
func asSchema(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
