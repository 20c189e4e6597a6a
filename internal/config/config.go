// Package config provides the configuration schema, loader, and adapter
// registry for the loom conversational backend service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so YAML values can use human-readable
// strings like "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a duration string via [time.ParseDuration].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the loom server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for loom.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Selection SelectionConfig `yaml:"selection"`
	Health    HealthConfig    `yaml:"health"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds network and logging settings for the loom server.
type ServerConfig struct {
	// ListenAddr is the TCP address the health endpoints listen on
	// (e.g., ":8080"). Leave empty to disable the HTTP listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the chat backends available for selection.
type ProvidersConfig struct {
	// Hosted configures the managed cloud backend. When nil, only
	// OpenAI-compatible backends are registered.
	Hosted *HostedConfig `yaml:"hosted"`

	// Compat lists OpenAI-compatible inference servers (vLLM, llama.cpp,
	// LM Studio, Ollama, ...). Each entry becomes a named provider.
	Compat []CompatConfig `yaml:"compat"`
}

// HostedConfig configures the managed cloud chat backend.
type HostedConfig struct {
	// Name is the provider name used in model specifiers and logs.
	// Defaults to "hosted".
	Name string `yaml:"name"`

	// APIKey authenticates against the hosted API. Required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the hosted API endpoint. Leave empty to use the
	// built-in default.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one streamed generation request. Zero means the
	// adapter default.
	Timeout Duration `yaml:"timeout"`

	// DefaultModel is the model used when a session is opened without an
	// explicit specifier.
	DefaultModel string `yaml:"default_model"`

	// ModelAliases maps model IDs to extra short names accepted in
	// specifiers (e.g. "gemini-2.5-flash": [flash]).
	ModelAliases map[string][]string `yaml:"model_aliases"`
}

// CompatConfig configures one OpenAI-compatible inference server.
type CompatConfig struct {
	// Name is the provider name used in model specifiers and logs. Required
	// and unique across all providers.
	Name string `yaml:"name"`

	// BaseURL is the server's OpenAI-compatible API root, including the
	// version prefix (e.g. "http://localhost:8000/v1"). Required.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the server. Local servers usually need
	// none.
	APIKey string `yaml:"api_key"`

	// SupportsTools declares whether the server implements the tools API.
	// Sessions opened with tools against a server without support drop the
	// tools with a warning.
	SupportsTools bool `yaml:"supports_tools"`

	// SupportsReasoning declares whether the server streams reasoning on
	// the separate reasoning_content channel. When false, reasoning is
	// recovered from inline think tags in the content channel.
	SupportsReasoning bool `yaml:"supports_reasoning"`

	// Timeout bounds one streamed completion request. Zero means the
	// adapter default.
	Timeout Duration `yaml:"timeout"`

	// DefaultModel is the model used when a session is opened without an
	// explicit specifier.
	DefaultModel string `yaml:"default_model"`

	// ModelAliases maps model IDs to extra short names accepted in
	// specifiers.
	ModelAliases map[string][]string `yaml:"model_aliases"`
}

// SelectionConfig tunes how model specifiers resolve to providers.
type SelectionConfig struct {
	// FallbackOrder lists provider names in the order they are tried when
	// the requested provider is unavailable or a specifier names none.
	// Providers not listed are appended after it. Empty means local compat
	// servers before the hosted backend, in declaration order.
	FallbackOrder []string `yaml:"fallback_order"`

	// Aliases adds bare-specifier aliases resolving to hosted model IDs,
	// on top of the built-in set.
	Aliases map[string]string `yaml:"aliases"`
}

// HealthConfig tunes provider health probing.
type HealthConfig struct {
	// TTL is how long a probe result stays cached. Zero means the monitor
	// default.
	TTL Duration `yaml:"ttl"`

	// ProbeTimeout bounds one probe round trip. Zero means the monitor
	// default.
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

// ChatConfig holds session defaults.
type ChatConfig struct {
	// SystemPrompt is prepended to every new session.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxToolRounds bounds consecutive tool rounds within one turn. Zero
	// means the conversation default.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}
