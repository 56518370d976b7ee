package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.Mutex
	halted string // non-empty once an integrity failure stopped the service
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic. It has no effect
// after Halt.
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted != "" {
		return
	}
	h.ready.Store(ready)
}

// Halt takes the service out of rotation for good. Used when the ledger
// audit finds counters that disagree with the entry log.
func (h *HealthChecker) Halt(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted == "" {
		h.halted = reason
	}
	h.ready.Store(false)
}

// Halted returns the halt reason, or "" while healthy.
func (h *HealthChecker) Halted() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}

	body := map[string]interface{}{"status": "not_ready"}
	if reason := h.Halted(); reason != "" {
		body["status"] = "halted"
		body["reason"] = reason
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(body)
}
