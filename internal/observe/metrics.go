// Package observe provides application-wide observability primitives for
// loom: OpenTelemetry metrics and the SDK provider setup that bridges them
// to Prometheus.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default is deliberately absent — the registry owner constructs a [Metrics]
// and passes it where needed, so tests can use [NewMetrics] with a custom
// [metric.MeterProvider] without cross-test pollution. All record helpers
// tolerate a nil receiver so wiring metrics stays optional.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all loom metrics.
const meterName = "github.com/wovenai/loom"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks end-to-end turn latency per provider.
	TurnDuration metric.Float64Histogram

	// ProbeDuration tracks health-probe round-trip latency per provider.
	ProbeDuration metric.Float64Histogram

	// ProviderRequests counts backend requests. Attributes:
	//   provider, status ("ok"|"error")
	ProviderRequests metric.Int64Counter

	// FallbackSubstitutions counts selections that substituted a healthy
	// provider for the requested one. Attributes: requested, selected
	FallbackSubstitutions metric.Int64Counter

	// ToolCalls counts tool invocations handed to the executor. Attributes:
	//   tool, status ("ok"|"error")
	ToolCalls metric.Int64Counter

	// StreamEvents counts normalized events by type. Attribute: type
	StreamEvents metric.Int64Counter

	// HTTPRequestDuration tracks health/metrics endpoint latency.
	// Attributes: method, path
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// network probes on the low end and full streamed turns on the high end.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("loom.turn.duration",
		metric.WithDescription("End-to-end latency of one conversational turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProbeDuration, err = m.Float64Histogram("loom.health.probe.duration",
		metric.WithDescription("Latency of provider health probes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("loom.provider.requests",
		metric.WithDescription("Backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.FallbackSubstitutions, err = m.Int64Counter("loom.selector.fallbacks",
		metric.WithDescription("Selections that substituted an alternative provider."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("loom.tool.calls",
		metric.WithDescription("Tool invocations by name and status."),
	); err != nil {
		return nil, err
	}
	if met.StreamEvents, err = m.Int64Counter("loom.stream.events",
		metric.WithDescription("Normalized stream events by type."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("loom.http.request.duration",
		metric.WithDescription("Latency of health and metrics endpoint requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordProbe records one health-probe outcome.
func (m *Metrics) RecordProbe(ctx context.Context, provider string, d time.Duration, healthy bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !healthy {
		status = "error"
	}
	m.ProbeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordFallback records one fallback substitution.
func (m *Metrics) RecordFallback(ctx context.Context, requested, selected string) {
	if m == nil {
		return
	}
	m.FallbackSubstitutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("requested", requested),
		attribute.String("selected", selected),
	))
}

// RecordToolCall records one tool execution outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordEvent records one normalized stream event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordTurn records one completed turn's duration.
func (m *Metrics) RecordTurn(ctx context.Context, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)))
}
