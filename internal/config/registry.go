package config

import (
	"fmt"

	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/provider/chat/compat"
	"github.com/wovenai/loom/pkg/provider/chat/hosted"
)

// BuildAdapters constructs one chat adapter per configured backend, in
// declaration order with the hosted backend first. The config must have
// passed [Validate].
//
// No global registration is involved — callers own the returned adapters and
// wire them into the health monitor and selector explicitly, which keeps
// tests free to build their own adapter sets.
func BuildAdapters(cfg *Config) ([]chat.Adapter, error) {
	var adapters []chat.Adapter

	if h := cfg.Providers.Hosted; h != nil {
		var opts []hosted.Option
		if h.Name != "" {
			opts = append(opts, hosted.WithName(h.Name))
		}
		if h.BaseURL != "" {
			opts = append(opts, hosted.WithBaseURL(h.BaseURL))
		}
		if h.Timeout > 0 {
			opts = append(opts, hosted.WithTimeout(h.Timeout.Std()))
		}
		if len(h.ModelAliases) > 0 {
			opts = append(opts, hosted.WithModelAliases(h.ModelAliases))
		}
		adapter, err := hosted.New(h.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("config: providers.hosted: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	for i, c := range cfg.Providers.Compat {
		strategy := compat.Strategy{
			Name:              c.Name,
			BaseURL:           c.BaseURL,
			APIKey:            c.APIKey,
			Timeout:           c.Timeout.Std(),
			SupportsTools:     c.SupportsTools,
			SupportsReasoning: c.SupportsReasoning,
		}
		var opts []compat.Option
		if len(c.ModelAliases) > 0 {
			opts = append(opts, compat.WithModelAliases(c.ModelAliases))
		}
		adapter, err := compat.New(strategy, opts...)
		if err != nil {
			return nil, fmt.Errorf("config: providers.compat[%d]: %w", i, err)
		}
		adapters = append(adapters, adapter)
	}

	return adapters, nil
}

// ProviderNames returns the names of all configured backends, hosted first,
// compat servers in declaration order.
func (c *Config) ProviderNames() []string {
	var names []string
	if h := c.Providers.Hosted; h != nil {
		name := h.Name
		if name == "" {
			name = "hosted"
		}
		names = append(names, name)
	}
	for _, compat := range c.Providers.Compat {
		names = append(names, compat.Name)
	}
	return names
}

// DefaultModel returns the configured default model for the named provider,
// or "" when the provider declares none.
func (c *Config) DefaultModel(provider string) string {
	if h := c.Providers.Hosted; h != nil {
		name := h.Name
		if name == "" {
			name = "hosted"
		}
		if name == provider {
			return h.DefaultModel
		}
	}
	for _, compat := range c.Providers.Compat {
		if compat.Name == provider {
			return compat.DefaultModel
		}
	}
	return ""
}
