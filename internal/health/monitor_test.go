package health_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wovenai/loom/internal/health"
	"github.com/wovenai/loom/pkg/provider/chat"
	"github.com/wovenai/loom/pkg/provider/chat/mock"
	"github.com/wovenai/loom/pkg/types"
)

func TestMonitor_CachesProbeWithinTTL(t *testing.T) {
	t.Parallel()
	adapter := &mock.Adapter{
		ProviderName: "local",
		Health:       chat.HealthRecord{Healthy: true},
	}
	m := health.NewMonitor([]chat.Adapter{adapter}, health.WithTTL(time.Minute))

	ctx := context.Background()
	for range 5 {
		rec := m.Status(ctx, "local")
		if !rec.Healthy {
			t.Fatalf("record = %+v, want healthy", rec)
		}
	}
	if adapter.CheckHealthCalls != 1 {
		t.Errorf("probe count = %d, want 1 (cached within TTL)", adapter.CheckHealthCalls)
	}
}

func TestMonitor_CachesFailuresToo(t *testing.T) {
	t.Parallel()
	adapter := &mock.Adapter{
		ProviderName: "flaky",
		Health:       chat.HealthRecord{Healthy: false, Err: "connection refused"},
	}
	m := health.NewMonitor([]chat.Adapter{adapter}, health.WithTTL(time.Minute))

	ctx := context.Background()
	for range 3 {
		rec := m.Status(ctx, "flaky")
		if rec.Healthy {
			t.Fatalf("record = %+v, want unhealthy", rec)
		}
	}
	if adapter.CheckHealthCalls != 1 {
		t.Errorf("probe count = %d, want 1 (failures cached to avoid hammering)", adapter.CheckHealthCalls)
	}
}

func TestMonitor_InvalidateForcesReprobe(t *testing.T) {
	t.Parallel()
	adapter := &mock.Adapter{
		ProviderName: "local",
		Health:       chat.HealthRecord{Healthy: true},
	}
	m := health.NewMonitor([]chat.Adapter{adapter}, health.WithTTL(time.Minute))

	ctx := context.Background()
	m.Status(ctx, "local")
	m.Invalidate("local")
	m.Status(ctx, "local")

	if adapter.CheckHealthCalls != 2 {
		t.Errorf("probe count = %d, want 2 after Invalidate", adapter.CheckHealthCalls)
	}
}

func TestMonitor_UnknownProvider(t *testing.T) {
	t.Parallel()
	m := health.NewMonitor(nil)

	rec := m.Status(context.Background(), "ghost")
	if rec.Healthy {
		t.Fatalf("record = %+v, want unhealthy", rec)
	}
	if rec.Err == "" {
		t.Error("record should explain why the provider is unknown")
	}
}

func TestMonitor_ModelsRefreshedOnHealthyProbe(t *testing.T) {
	t.Parallel()
	adapter := &mock.Adapter{
		ProviderName: "local",
		Health:       chat.HealthRecord{Healthy: true},
		Models: []types.ModelInfo{
			{ID: "qwen3-32b", Provider: "local"},
		},
	}
	m := health.NewMonitor([]chat.Adapter{adapter}, health.WithTTL(time.Minute))

	models := m.Models(context.Background(), "local")
	if len(models) != 1 || models[0].ID != "qwen3-32b" {
		t.Fatalf("models = %+v, want the adapter's list", models)
	}
	// Second read must come from cache.
	m.Models(context.Background(), "local")
	if adapter.ListModelsCalls != 1 {
		t.Errorf("ListModels calls = %d, want 1", adapter.ListModelsCalls)
	}
}

func TestMonitor_NoModelListForUnhealthyProvider(t *testing.T) {
	t.Parallel()
	adapter := &mock.Adapter{
		ProviderName: "down",
		Health:       chat.HealthRecord{Healthy: false, Err: "dial tcp: refused"},
		Models:       []types.ModelInfo{{ID: "never-seen"}},
	}
	m := health.NewMonitor([]chat.Adapter{adapter})

	if models := m.Models(context.Background(), "down"); len(models) != 0 {
		t.Errorf("models = %+v, want empty for unhealthy provider", models)
	}
	if adapter.ListModelsCalls != 0 {
		t.Error("ListModels must not be called when the probe failed")
	}
}

func TestMonitor_ProbeAllSweepsEveryProvider(t *testing.T) {
	t.Parallel()
	up := &mock.Adapter{ProviderName: "up", Health: chat.HealthRecord{Healthy: true}}
	down := &mock.Adapter{ProviderName: "down", Health: chat.HealthRecord{Healthy: false, Err: "boom"}}
	m := health.NewMonitor([]chat.Adapter{up, down})

	records := m.ProbeAll(context.Background())
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !records["up"].Healthy || records["down"].Healthy {
		t.Errorf("records = %+v, want up healthy and down not", records)
	}
}

func TestHandler_ReadyWithOneHealthyBackend(t *testing.T) {
	t.Parallel()
	up := &mock.Adapter{ProviderName: "up", Health: chat.HealthRecord{Healthy: true}}
	down := &mock.Adapter{ProviderName: "down", Health: chat.HealthRecord{Healthy: false, Err: "boom"}}
	h := health.NewHandler(health.NewMonitor([]chat.Adapter{up, down}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest("GET", "/readyz", nil))

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200 (one backend suffices)", rr.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["up"] != "ok" {
		t.Errorf("checks[up] = %q, want ok", body.Checks["up"])
	}
	if body.Checks["down"] == "ok" {
		t.Errorf("checks[down] = %q, want failure note", body.Checks["down"])
	}
}

func TestHandler_NotReadyWhenAllDown(t *testing.T) {
	t.Parallel()
	down := &mock.Adapter{ProviderName: "down", Health: chat.HealthRecord{Healthy: false, Err: "boom"}}
	h := health.NewHandler(health.NewMonitor([]chat.Adapter{down}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest("GET", "/readyz", nil))

	if rr.Code != 503 {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}
