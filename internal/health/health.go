// Package health exposes a liveness endpoint backed by the coordinator's
// reconciliation loop.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// TickReporter reports when the last reconciliation pass completed.
type TickReporter interface {
	LastTick() (time.Time, bool)
}

// Health returns 200 once the first reconciliation pass has completed, and
// 503 before that.
type Health struct {
	Coordinator TickReporter
	Logger      *slog.Logger
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	last, ok := h.Coordinator.LastTick()
	if !ok {
		http.Error(w, "waiting for first reconciliation pass", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		LastTick time.Time `json:"last_tick"`
	}{LastTick: last}); err != nil {
		h.Logger.Error("failed to write health response", "err", err)
	}
}
