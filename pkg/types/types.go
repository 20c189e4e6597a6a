// Package types defines the shared types used across all loom packages.
//
// These types form the lingua franca between the specifier parser, provider
// adapters, the health monitor, and the stream normalizer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Reasoning holds intermediate "thinking" text emitted by reasoning-capable
	// models. Kept separate from Content so renderers can distinguish the two.
	Reasoning string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message responds to.
	ToolCallID string

	// ToolName is set when Role is "tool". Some backends address tool results
	// by name rather than by call ID.
	ToolName string
}

// ToolCall represents a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the unique identifier for this call. Backends that do not assign
	// call IDs on the wire get one synthesized at adapter level.
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the complete JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to a model.
// Definitions are stored once per session in this canonical form and rendered
// into each backend's native declaration shape on demand.
type ToolDefinition struct {
	// Name is the tool's unique identifier. Names must be unique within a
	// session's tool set.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ModelInfo describes one model exposed by a provider, produced during
// discovery and cached alongside the provider's health record.
type ModelInfo struct {
	// ID is the provider's canonical model identifier.
	ID string

	// DisplayName is a human-readable model name. Falls back to ID when the
	// provider reports none.
	DisplayName string

	// Provider names the backend that exposes this model.
	Provider string

	// Aliases lists alternative names that resolve to this model.
	Aliases []string

	// ToolCapable reports whether the model supports structured tool calling.
	ToolCapable bool

	// ReasoningCapable reports whether the model exposes a reasoning channel.
	ReasoningCapable bool

	// CheckedAt is when this entry was last refreshed from the provider.
	CheckedAt time.Time
}

// Matches reports whether name refers to this model, comparing
// case-insensitively against the ID and every alias.
func (m ModelInfo) Matches(name string) bool {
	if strings.EqualFold(m.ID, name) {
		return true
	}
	for _, a := range m.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
