package health

import (
	"encoding/json"
	"net/http"
)

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints backed by a [Monitor].
type Handler struct {
	monitor *Monitor
}

// NewHandler creates a [Handler] that reports the monitor's provider status
// on each /readyz request.
func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 when at least one provider is
// healthy. Each provider's state appears in the "checks" map; readiness does
// not require every backend to be up since selection falls back across them.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	records := h.monitor.ProbeAll(r.Context())

	checks := make(map[string]string, len(records))
	anyOK := false
	for name, rec := range records {
		if rec.Healthy {
			checks[name] = "ok"
			anyOK = true
		} else {
			checks[name] = "fail: " + rec.Err
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !anyOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
