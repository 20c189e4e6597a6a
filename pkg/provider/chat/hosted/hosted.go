// Package hosted implements the chat.Adapter interface for the hosted API.
//
// The hosted wire dialect is request/response plus a chunked SSE stream keyed
// by candidates[].content.parts[], with functionCall/functionResponse parts
// for tool calling. The adapter speaks the dialect directly over HTTP; no SDK
// sits in between, so every field this package depends on is visible in the
// wire types at the bottom of session.go.
package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wovenai/loom/internal/toolbridge"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

const (
	defaultName    = "hosted"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 120 * time.Second

	// probeTimeout bounds the lightweight reachability check done at
	// session open.
	probeTimeout = 5 * time.Second
)

// Compile-time interface assertion.
var _ chat.Adapter = (*Adapter)(nil)

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithName overrides the provider name reported by the adapter.
func WithName(name string) Option {
	return func(a *Adapter) { a.name = name }
}

// WithBaseURL overrides the default API base URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-request HTTP timeout, covering the whole stream.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithModelAliases declares extra aliases per model ID, merged into the
// ModelInfo entries produced by ListModels. The fallback policy matches
// substitute models through these.
func WithModelAliases(aliases map[string][]string) Option {
	return func(a *Adapter) { a.modelAliases = aliases }
}

// Adapter implements chat.Adapter for the hosted backend.
type Adapter struct {
	name         string
	apiKey       string
	baseURL      string
	client       *http.Client
	modelAliases map[string][]string
}

// New constructs a hosted Adapter with the given API key.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("hosted: apiKey must not be empty")
	}
	a := &Adapter{
		name:    defaultName,
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Name implements chat.Adapter.
func (a *Adapter) Name() string {
	return a.name
}

// Capabilities implements chat.Adapter. The hosted dialect has structured
// tool calls and no separated reasoning channel.
func (a *Adapter) Capabilities() chat.Capabilities {
	return chat.Capabilities{StructuredToolCalls: true}
}

// OpenSession implements chat.Adapter. It probes reachability first so a
// dead backend is reported at open time, not on the first turn.
func (a *Adapter) OpenSession(ctx context.Context, cfg chat.SessionConfig) (chat.Session, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("hosted: model must not be empty")
	}
	if err := toolbridge.ValidateTools(cfg.Tools); err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := a.probe(probeCtx); err != nil {
		return nil, fmt.Errorf("%w: hosted backend unreachable: %v", chat.ErrConnection, err)
	}

	s := &session{
		adapter: a,
		id:      uuid.NewString(),
		model:   cfg.Model,
		system:  cfg.SystemPrompt,
		tools:   toolbridge.ToHostedDeclarations(cfg.Tools),
	}
	return s, nil
}

// ListModels implements chat.Adapter. Discovery failures are logged and
// yield an empty list so that overall discovery stays robust.
func (a *Adapter) ListModels(ctx context.Context) []types.ModelInfo {
	models, err := a.fetchModels(ctx)
	if err != nil {
		slog.Warn("hosted: model discovery failed", "provider", a.name, "error", err)
		return nil
	}
	return models
}

// CheckHealth implements chat.Adapter.
func (a *Adapter) CheckHealth(ctx context.Context) chat.HealthRecord {
	start := time.Now()
	err := a.probe(ctx)
	rec := chat.HealthRecord{
		Provider:  a.name,
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

// probe issues the cheapest request the dialect offers: a single-entry model
// list page.
func (a *Adapter) probe(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/models?pageSize=1&key=%s", a.baseURL, url.QueryEscape(a.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

// fetchModels pages through the model list endpoint.
func (a *Adapter) fetchModels(ctx context.Context) ([]types.ModelInfo, error) {
	all := make([]types.ModelInfo, 0, 16)
	pageToken := ""
	// Page cap guards against a miscounting backend.
	for page := 0; page < 5; page++ {
		query := url.Values{"key": {a.apiKey}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		endpoint := a.baseURL + "/models?" + query.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, statusError(resp)
		}
		var payload modelListResponse
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		now := time.Now()
		for _, item := range payload.Models {
			id := strings.TrimPrefix(strings.TrimSpace(item.Name), "models/")
			if id == "" {
				continue
			}
			display := item.DisplayName
			if display == "" {
				display = id
			}
			all = append(all, types.ModelInfo{
				ID:          id,
				DisplayName: display,
				Provider:    a.name,
				Aliases:     a.modelAliases[id],
				ToolCapable: supportsGenerate(item.SupportedGenerationMethods),
				CheckedAt:   now,
			})
		}
		pageToken = strings.TrimSpace(payload.NextPageToken)
		if pageToken == "" {
			break
		}
	}
	return all, nil
}

// supportsGenerate reports whether a model exposes the content-generation
// method, which is what tool calling rides on in this dialect.
func supportsGenerate(methods []string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, "generateContent") {
			return true
		}
	}
	return false
}

// statusError summarizes a non-2xx response.
func statusError(resp *http.Response) error {
	return fmt.Errorf("hosted: unexpected status %s", resp.Status)
}

// modelListResponse is one page of the model list endpoint.
type modelListResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}
