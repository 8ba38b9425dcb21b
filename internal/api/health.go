package api

import (
	"net/http"

	"github.com/goccy/go-json"
)

// HealthLive handles GET /health/live: process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready: ready means a browser peer is
// attached and not mid-refresh.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ready := h.hub.Connected() && !h.hub.Refreshing()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         statusWord(ready),
		"peer_connected": h.hub.Connected(),
	})
}

func statusWord(ready bool) string {
	if ready {
		return "ok"
	}
	return "unavailable"
}
