// Package compat implements the chat.Adapter interface for OpenAI-compatible
// backends.
//
// One adapter serves one backend instance. Otherwise-identical servers (two
// local runtimes both speaking the same wire dialect) are told apart by a
// [Strategy]: base address, credential, and two capability flags. The
// protocol itself is handled once, through the openai-go client pointed at
// the strategy's base URL.
package compat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/wovenai/loom/internal/toolbridge"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

const (
	defaultTimeout = 120 * time.Second

	// probeTimeout bounds the reachability check done at session open.
	probeTimeout = 5 * time.Second
)

// Compile-time interface assertion.
var _ chat.Adapter = (*Adapter)(nil)

// Strategy carries the per-backend parameters that distinguish one
// OpenAI-compatible server from another without duplicating protocol code.
type Strategy struct {
	// Name is the provider name this backend is registered under.
	Name string

	// BaseURL is the server's API base address, e.g. "http://localhost:11434/v1".
	BaseURL string

	// APIKey is the credential sent as a bearer token. Local servers often
	// accept any value; an empty key sends no credential.
	APIKey string

	// Timeout is the per-request HTTP timeout covering the whole stream.
	// Zero means the default.
	Timeout time.Duration

	// SupportsTools reports whether the backend accepts structured tool
	// declarations. When false, tool sets are dropped at session open.
	SupportsTools bool

	// SupportsReasoning reports whether the backend streams reasoning text
	// on the reasoning_content delta field. When false, reasoning (if any)
	// arrives inline between <think> tags and is separated downstream.
	SupportsReasoning bool
}

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithModelAliases declares extra aliases per model ID, merged into the
// ModelInfo entries produced by ListModels.
func WithModelAliases(aliases map[string][]string) Option {
	return func(a *Adapter) { a.modelAliases = aliases }
}

// Adapter implements chat.Adapter for one OpenAI-compatible backend.
type Adapter struct {
	strategy     Strategy
	client       oai.Client
	modelAliases map[string][]string
}

// New constructs an Adapter for the given backend strategy.
func New(strategy Strategy, opts ...Option) (*Adapter, error) {
	if strategy.Name == "" {
		return nil, fmt.Errorf("compat: strategy name must not be empty")
	}
	if strategy.BaseURL == "" {
		return nil, fmt.Errorf("compat: strategy base URL must not be empty")
	}
	if strategy.Timeout <= 0 {
		strategy.Timeout = defaultTimeout
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strategy.BaseURL, "/")),
		option.WithHTTPClient(&http.Client{Timeout: strategy.Timeout}),
	}
	if strategy.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(strategy.APIKey))
	}

	a := &Adapter{
		strategy: strategy,
		client:   oai.NewClient(reqOpts...),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Name implements chat.Adapter.
func (a *Adapter) Name() string {
	return a.strategy.Name
}

// Capabilities implements chat.Adapter.
func (a *Adapter) Capabilities() chat.Capabilities {
	return chat.Capabilities{
		StructuredToolCalls: a.strategy.SupportsTools,
		ReasoningChannel:    a.strategy.SupportsReasoning,
	}
}

// OpenSession implements chat.Adapter. It probes reachability first so a
// dead backend is reported at open time, not on the first turn.
func (a *Adapter) OpenSession(ctx context.Context, cfg chat.SessionConfig) (chat.Session, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("compat: model must not be empty")
	}
	if err := toolbridge.ValidateTools(cfg.Tools); err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := a.client.Models.List(probeCtx); err != nil {
		return nil, fmt.Errorf("%w: %s unreachable: %v", chat.ErrConnection, a.strategy.Name, err)
	}

	tools := cfg.Tools
	if len(tools) > 0 && !a.strategy.SupportsTools {
		slog.Warn("compat: backend does not support tool calls, dropping tool set",
			"provider", a.strategy.Name, "tools", len(tools))
		tools = nil
	}

	return &session{
		adapter: a,
		model:   cfg.Model,
		system:  cfg.SystemPrompt,
		tools:   tools,
	}, nil
}

// ListModels implements chat.Adapter. Discovery failures are logged and
// yield an empty list so that overall discovery stays robust.
func (a *Adapter) ListModels(ctx context.Context) []types.ModelInfo {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		slog.Warn("compat: model discovery failed", "provider", a.strategy.Name, "error", err)
		return nil
	}
	now := time.Now()
	out := make([]types.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		out = append(out, types.ModelInfo{
			ID:               id,
			DisplayName:      id,
			Provider:         a.strategy.Name,
			Aliases:          a.modelAliases[id],
			ToolCapable:      a.strategy.SupportsTools,
			ReasoningCapable: a.strategy.SupportsReasoning,
			CheckedAt:        now,
		})
	}
	return out
}

// CheckHealth implements chat.Adapter.
func (a *Adapter) CheckHealth(ctx context.Context) chat.HealthRecord {
	start := time.Now()
	_, err := a.client.Models.List(ctx)
	rec := chat.HealthRecord{
		Provider:  a.strategy.Name,
		Healthy:   err == nil,
		CheckedAt: time.Now(),
		Latency:   time.Since(start),
	}
	if err != nil {
		rec.Err = err.Error()
		rec.Latency = 0
	}
	return rec
}
