package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all bridge routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("GET /v1/models", h.ListModels)

	mux.HandleFunc("POST /internal/start_id_capture", h.StartIDCapture)
	mux.HandleFunc("POST /internal/update_ids", h.UpdateIDs)
	mux.HandleFunc("POST /internal/request_model_update", h.RequestModelUpdate)
	mux.HandleFunc("POST /internal/update_available_models", h.UpdateAvailableModels)
	mux.HandleFunc("GET /internal/status", h.Status)

	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/ws", h.hub.ServeWS)
}
