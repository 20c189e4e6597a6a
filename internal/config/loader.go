package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	providerNames := make(map[string]string, len(cfg.Providers.Compat)+1)

	// Hosted backend
	if h := cfg.Providers.Hosted; h != nil {
		if h.APIKey == "" {
			errs = append(errs, errors.New("providers.hosted.api_key is required"))
		}
		name := h.Name
		if name == "" {
			name = "hosted"
		}
		providerNames[name] = "providers.hosted"
		if h.Timeout < 0 {
			errs = append(errs, fmt.Errorf("providers.hosted.timeout %s is negative", h.Timeout.Std()))
		}
	}

	// Compat backends
	for i, c := range cfg.Providers.Compat {
		prefix := fmt.Sprintf("providers.compat[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := providerNames[c.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, c.Name, prev))
		} else {
			providerNames[c.Name] = prefix
		}
		if c.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required", prefix))
		}
		if c.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s is negative", prefix, c.Timeout.Std()))
		}
	}

	if len(providerNames) == 0 {
		errs = append(errs, errors.New("providers: at least one backend must be configured"))
	}

	// Fallback order must reference configured providers.
	seen := make(map[string]int, len(cfg.Selection.FallbackOrder))
	for i, name := range cfg.Selection.FallbackOrder {
		if _, ok := providerNames[name]; !ok {
			errs = append(errs, fmt.Errorf("selection.fallback_order[%d] %q is not a configured provider", i, name))
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("selection.fallback_order[%d] %q is a duplicate of selection.fallback_order[%d]", i, name, prev))
		}
		seen[name] = i
	}

	// Bare aliases resolve on the hosted backend.
	if len(cfg.Selection.Aliases) > 0 && cfg.Providers.Hosted == nil {
		slog.Warn("selection.aliases configured without a hosted backend; bare specifiers will only resolve through provider model aliases")
	}

	if cfg.Health.TTL < 0 {
		errs = append(errs, fmt.Errorf("health.ttl %s is negative", cfg.Health.TTL.Std()))
	}
	if cfg.Health.ProbeTimeout < 0 {
		errs = append(errs, fmt.Errorf("health.probe_timeout %s is negative", cfg.Health.ProbeTimeout.Std()))
	}
	if cfg.Chat.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tool_rounds %d is negative", cfg.Chat.MaxToolRounds))
	}

	return errors.Join(errs...)
}

// FallbackOrder returns the effective provider preference: the configured
// order when set, otherwise compat servers in declaration order followed by
// the hosted backend. Local inference is preferred by default since it costs
// nothing per token.
func (c *Config) FallbackOrder() []string {
	if len(c.Selection.FallbackOrder) > 0 {
		return slices.Clone(c.Selection.FallbackOrder)
	}
	var order []string
	for _, compat := range c.Providers.Compat {
		order = append(order, compat.Name)
	}
	if h := c.Providers.Hosted; h != nil {
		name := h.Name
		if name == "" {
			name = "hosted"
		}
		order = append(order, name)
	}
	return order
}
