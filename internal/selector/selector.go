// Package selector resolves a parsed model specifier to a concrete, healthy
// backend provider.
//
// Selection consults the health monitor's cached probe results and model
// lists. When the requested provider is down, the selector walks the
// configured preference order looking for another provider that hosts a
// model matching the request (by ID or alias); it records the substitution
// rather than hiding it. A provider that is healthy but does not host a
// matching model is never substituted silently.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wovenai/loom/internal/health"
	"github.com/wovenai/loom/internal/observe"
	"github.com/wovenai/loom/pkg/modelspec"
	"github.com/wovenai/loom/pkg/provider/chat"
)

// Selection is the outcome of resolving a specifier to a backend.
type Selection struct {
	// Provider is the chosen provider's name.
	Provider string

	// Model is the concrete model ID to request from the provider. When a
	// fallback provider matched the request through an alias, this is that
	// provider's own model ID, not the requested name.
	Model string

	// Adapter is the chosen provider's adapter.
	Adapter chat.Adapter

	// FallbackUsed reports whether Provider differs from the one the
	// specifier asked for (or, for bare specifiers, from the first
	// preference).
	FallbackUsed bool

	// Reason explains the substitution when FallbackUsed is true.
	Reason string
}

// Attempt records one provider that was considered and rejected.
type Attempt struct {
	Provider string
	Reason   string
}

// NoProviderError reports that no registered provider could serve a request.
// It names every provider tried and why each was rejected.
type NoProviderError struct {
	Requested string
	Attempts  []Attempt
}

func (e *NoProviderError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no provider available for %q", e.Requested)
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %s", a.Provider, a.Reason)
	}
	return sb.String()
}

// Selector picks a provider for a parsed model specifier.
type Selector struct {
	monitor *health.Monitor
	order   []string
	metrics *observe.Metrics
}

// Option configures a [Selector].
type Option func(*Selector)

// WithMetrics attaches fallback metrics recording.
func WithMetrics(met *observe.Metrics) Option {
	return func(s *Selector) { s.metrics = met }
}

// New creates a selector over the monitor's providers. order is the fallback
// preference: providers are tried in this sequence when the requested one is
// unavailable or when the specifier names no provider. Monitor providers
// missing from order are appended after it (in monitor order).
func New(monitor *health.Monitor, order []string, opts ...Option) *Selector {
	s := &Selector{monitor: monitor}
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if monitor.Adapter(name) != nil && !seen[name] {
			s.order = append(s.order, name)
			seen[name] = true
		}
	}
	for _, name := range monitor.Providers() {
		if !seen[name] {
			s.order = append(s.order, name)
			seen[name] = true
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select resolves spec to a healthy provider and concrete model ID.
//
// An explicit provider in spec is tried first; the preference order supplies
// fallbacks. A fallback provider is only chosen when its cached model list
// contains a model matching the requested name or one of its aliases.
// Returns a [*NoProviderError] when every candidate is rejected.
func (s *Selector) Select(ctx context.Context, spec modelspec.Specifier) (Selection, error) {
	candidates := s.order
	if spec.Provider != "" {
		candidates = make([]string, 0, len(s.order)+1)
		candidates = append(candidates, spec.Provider)
		for _, name := range s.order {
			if name != spec.Provider {
				candidates = append(candidates, name)
			}
		}
	}

	var attempts []Attempt
	for i, name := range candidates {
		adapter := s.monitor.Adapter(name)
		if adapter == nil {
			attempts = append(attempts, Attempt{Provider: name, Reason: "not registered"})
			continue
		}

		rec := s.monitor.Status(ctx, name)
		if !rec.Healthy {
			attempts = append(attempts, Attempt{Provider: name, Reason: "unhealthy: " + rec.Err})
			continue
		}

		model, ok := s.resolveModel(ctx, name, spec, i > 0)
		if !ok {
			attempts = append(attempts,
				Attempt{Provider: name, Reason: fmt.Sprintf("no model matching %q", spec.Model)})
			continue
		}

		sel := Selection{Provider: name, Model: model, Adapter: adapter}
		if i > 0 {
			sel.FallbackUsed = true
			sel.Reason = fmt.Sprintf("%s unavailable (%s)", candidates[0], attempts[0].Reason)
			slog.Info("substituted fallback provider",
				"requested", spec.Raw,
				"provider", name,
				"model", model,
				"reason", sel.Reason,
			)
			s.metrics.RecordFallback(ctx, candidates[0], name)
		}
		return sel, nil
	}

	return Selection{}, &NoProviderError{Requested: spec.Raw, Attempts: attempts}
}

// resolveModel maps the requested model name onto one of the provider's
// models. The first candidate (the requested provider, or the first
// preference for bare specifiers) accepts the name verbatim when the cached
// list has no match — catalogs can be stale or incomplete while the chat
// endpoint still serves the model. Fallback candidates must positively
// match, so an unrelated model is never substituted.
func (s *Selector) resolveModel(ctx context.Context, provider string, spec modelspec.Specifier, fallback bool) (string, bool) {
	models := s.monitor.Models(ctx, provider)
	for _, m := range models {
		if m.Matches(spec.Model) {
			return m.ID, true
		}
	}
	if !fallback {
		return spec.Model, true
	}
	return "", false
}
