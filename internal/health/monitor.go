// Package health tracks backend provider availability.
//
// A [Monitor] wraps a set of chat adapters and caches the result of their
// health probes for a configurable TTL, so that hot paths (every model
// selection) can consult provider status without paying a network round trip
// each time. Probe failures are cached just like successes — a flapping
// backend is re-probed at most once per TTL window.
//
// The package also exposes HTTP liveness/readiness handlers backed by the
// monitor for use behind a load balancer or orchestrator.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wovenai/loom/internal/observe"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/types"
)

const (
	// defaultTTL is how long a probe result stays fresh before the next
	// Status call re-probes.
	defaultTTL = 30 * time.Second

	// defaultProbeTimeout bounds a single probe round trip.
	defaultProbeTimeout = 5 * time.Second
)

// cacheEntry is one cached probe result plus the model list fetched alongside
// a successful probe.
type cacheEntry struct {
	record chat.HealthRecord
	models []types.ModelInfo
}

// fresh reports whether the entry is still within ttl of its probe time.
func (e *cacheEntry) fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.record.CheckedAt) < ttl
}

// Monitor caches provider health probes and model lists.
//
// All methods are safe for concurrent use. Concurrent Status calls for the
// same stale provider may race into duplicate probes; the last writer wins,
// which is harmless since both results are equally current.
type Monitor struct {
	adapters     map[string]chat.Adapter
	ttl          time.Duration
	probeTimeout time.Duration
	metrics      *observe.Metrics

	mu    sync.Mutex
	cache map[string]*cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithTTL overrides the probe cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Monitor) { m.ttl = ttl }
}

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// WithMetrics attaches probe metrics recording.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Monitor) { m.metrics = met }
}

// NewMonitor creates a monitor over the given adapters, keyed by
// [chat.Adapter.Name].
func NewMonitor(adapters []chat.Adapter, opts ...Option) *Monitor {
	m := &Monitor{
		adapters:     make(map[string]chat.Adapter, len(adapters)),
		ttl:          defaultTTL,
		probeTimeout: defaultProbeTimeout,
		cache:        make(map[string]*cacheEntry),
		now:          time.Now,
	}
	for _, a := range adapters {
		m.adapters[a.Name()] = a
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Adapter returns the adapter registered under name, or nil when unknown.
func (m *Monitor) Adapter(name string) chat.Adapter {
	return m.adapters[name]
}

// Providers returns the registered provider names in no particular order.
func (m *Monitor) Providers() []string {
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

// Status returns the health record for provider, probing if no fresh cached
// result exists. Unknown providers yield an unhealthy record with Err set.
func (m *Monitor) Status(ctx context.Context, provider string) chat.HealthRecord {
	adapter, ok := m.adapters[provider]
	if !ok {
		return chat.HealthRecord{
			Provider:  provider,
			Healthy:   false,
			CheckedAt: m.now(),
			Err:       "unknown provider",
		}
	}

	m.mu.Lock()
	entry := m.cache[provider]
	m.mu.Unlock()
	if entry.fresh(m.now(), m.ttl) {
		return entry.record
	}

	return m.probe(ctx, adapter)
}

// Models returns the cached model list for provider, probing first when the
// cache is stale. Unhealthy providers yield an empty list.
func (m *Monitor) Models(ctx context.Context, provider string) []types.ModelInfo {
	adapter, ok := m.adapters[provider]
	if !ok {
		return nil
	}

	m.mu.Lock()
	entry := m.cache[provider]
	m.mu.Unlock()
	if entry.fresh(m.now(), m.ttl) {
		return entry.models
	}

	m.probe(ctx, adapter)

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry := m.cache[provider]; entry != nil {
		return entry.models
	}
	return nil
}

// Invalidate drops any cached result for provider so the next Status call
// re-probes. Call this after a request to the provider fails mid-session.
func (m *Monitor) Invalidate(provider string) {
	m.mu.Lock()
	delete(m.cache, provider)
	m.mu.Unlock()
}

// ProbeAll refreshes every provider concurrently and returns the records
// keyed by provider name. Cached freshness is ignored — this is a forced
// sweep, intended for startup and for the readiness endpoint.
func (m *Monitor) ProbeAll(ctx context.Context) map[string]chat.HealthRecord {
	records := make(map[string]chat.HealthRecord, len(m.adapters))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, adapter := range m.adapters {
		g.Go(func() error {
			rec := m.probe(gctx, adapter)
			mu.Lock()
			records[name] = rec
			mu.Unlock()
			return nil
		})
	}
	// Probes never return errors — failures land in the records.
	_ = g.Wait()
	return records
}

// probe runs one health check against adapter, caches the result, and — on
// success — refreshes the provider's model list.
func (m *Monitor) probe(ctx context.Context, adapter chat.Adapter) chat.HealthRecord {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	rec := adapter.CheckHealth(pctx)
	m.metrics.RecordProbe(ctx, adapter.Name(), rec.Latency, rec.Healthy)

	entry := &cacheEntry{record: rec}
	if rec.Healthy {
		entry.models = adapter.ListModels(pctx)
	} else {
		slog.Warn("provider health probe failed",
			"provider", adapter.Name(),
			"error", rec.Err,
			"latency", rec.Latency,
		)
	}

	m.mu.Lock()
	m.cache[adapter.Name()] = entry
	m.mu.Unlock()
	return rec
}
