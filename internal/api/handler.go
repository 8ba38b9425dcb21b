// Package api provides the bridge's HTTP surface: the OpenAI-compatible
// chat completion and model listing endpoints, the userscript control
// endpoints, and health/metrics.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/lumabridge/lumabridge/internal/assembler"
	"github.com/lumabridge/lumabridge/internal/auth"
	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/dispatch"
	"github.com/lumabridge/lumabridge/internal/geo"
	"github.com/lumabridge/lumabridge/internal/hub"
	"github.com/lumabridge/lumabridge/internal/metrics"
	"github.com/lumabridge/lumabridge/internal/monitor"
	"github.com/lumabridge/lumabridge/internal/parser"
	"github.com/lumabridge/lumabridge/pkg/errors"
	"github.com/lumabridge/lumabridge/pkg/types"
)

// Handler serves the bridge API.
type Handler struct {
	manager    *config.Manager
	dispatcher *dispatch.Dispatcher
	parser     *parser.Parser
	hub        *hub.Hub
	tokens     auth.TokenService
	geo        geo.Service
	monitor    *monitor.Monitor
	collector  *metrics.Collector
	logger     *slog.Logger
}

// NewHandler wires the API handler.
func NewHandler(manager *config.Manager, d *dispatch.Dispatcher, p *parser.Parser, h *hub.Hub, tokens auth.TokenService, g geo.Service, mon *monitor.Monitor, col *metrics.Collector, logger *slog.Logger) *Handler {
	return &Handler{
		manager:    manager,
		dispatcher: d,
		parser:     p,
		hub:        h,
		tokens:     tokens,
		geo:        g,
		monitor:    mon,
		collector:  col,
		logger:     logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	info, authErr := h.authenticate(r)
	if authErr != nil {
		h.writeError(w, authErr)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, errors.NewBadRequestError("failed to read request body"))
		return
	}
	defer r.Body.Close()

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, errors.NewBadRequestError("invalid JSON: "+err.Error()))
		return
	}
	if req.Model == "" {
		h.writeError(w, errors.NewBadRequestError("model is required"))
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, errors.NewBadRequestError("messages is required").WithModel(req.Model))
		return
	}

	meta := h.requestMeta(r, info)
	stream, dispatchErr := h.dispatcher.Dispatch(r.Context(), &req, meta)
	if dispatchErr != nil {
		h.recordOutcome(&req, meta, start, 0, dispatchErr)
		h.writeError(w, dispatchErr)
		return
	}
	defer h.dispatcher.Finish(stream.RequestID)

	events := h.parser.Events(r.Context(), stream.RequestID, stream.Queue)
	cfg := h.manager.Get()

	if req.Stream {
		assembler.StreamHeaders(w.Header())
		assembler.Stream(w, cfg, req.Model, events)
		h.recordOutcome(&req, meta, start, 0, nil)
		return
	}

	resp, collectErr := assembler.Collect(cfg, req.Model, req.EstimatePromptTokens(), events)
	if collectErr != nil {
		bridgeErr, ok := collectErr.(*errors.BridgeError)
		if !ok {
			bridgeErr = errors.NewInternalError(collectErr.Error()).WithModel(req.Model)
		}
		h.recordOutcome(&req, meta, start, 0, bridgeErr)
		h.writeError(w, bridgeErr)
		return
	}

	completionTokens := 0
	if resp.Usage != nil {
		completionTokens = resp.Usage.CompletionTokens
	}
	h.recordOutcome(&req, meta, start, completionTokens, nil)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// ListModels handles GET /v1/models. The endpoint map takes priority; the
// model map fills in names without an endpoint binding.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	names := map[string]struct{}{}
	for name := range h.manager.EndpointMap() {
		names[name] = struct{}{}
	}
	for name := range h.manager.ModelMap() {
		names[name] = struct{}{}
	}
	if len(names) == 0 {
		h.writeError(w, &errors.BridgeError{
			StatusCode: http.StatusNotFound,
			Message:    "no models configured, provide a model map or endpoint map",
			Kind:       errors.KindBadRequest,
		})
		return
	}

	created := time.Now().Unix()
	list := types.ModelList{Object: "list", Data: make([]types.ModelCard, 0, len(names))}
	for name := range names {
		list.Data = append(list.Data, types.ModelCard{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "LumaBridge",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.logger.Error("failed to encode model list", "error", err)
	}
}

func (h *Handler) authenticate(r *http.Request) (*auth.TokenInfo, *errors.BridgeError) {
	token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		return nil, errors.NewAuthInvalidError("missing or malformed Authorization header")
	}
	info, err := h.tokens.Validate(r.Context(), token)
	if err != nil {
		return nil, errors.NewAuthInvalidError("invalid token")
	}
	if info.Disabled || info.Expired() {
		return nil, errors.NewAuthInvalidError("token is disabled or expired")
	}
	return info, nil
}

func (h *Handler) requestMeta(r *http.Request, info *auth.TokenInfo) dispatch.Meta {
	ip := geo.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
	country, city := h.geo.Lookup(r.Context(), ip)
	ua := r.Header.Get("User-Agent")
	return dispatch.Meta{
		TokenName: info.Name,
		ClientIP:  ip,
		UserAgent: ua,
		Country:   country,
		City:      city,
		Platform:  h.geo.ClassifyUA(ua),
	}
}

// recordOutcome feeds usage logging, the monitor counters and Prometheus
// after a request settles. Streamed relays report zero completion tokens;
// the SSE writer does not count them.
func (h *Handler) recordOutcome(req *types.ChatRequest, meta dispatch.Meta, start time.Time, completionTokens int, bridgeErr *errors.BridgeError) {
	finished := time.Now()
	status := http.StatusOK
	errorKind := ""
	if bridgeErr != nil {
		status = bridgeErr.HTTPStatusCode()
		errorKind = bridgeErr.Kind
	}

	modelType := h.manager.ModelEntryFor(req.Model).Type
	h.collector.RecordRequest(&metrics.RequestMetrics{
		Model:            req.Model,
		ModelType:        modelType,
		Stream:           req.Stream,
		StatusCode:       status,
		ErrorKind:        errorKind,
		StartedAt:        start,
		FinishedAt:       finished,
		CompletionTokens: completionTokens,
		Success:          bridgeErr == nil,
	})

	if h.monitor != nil {
		h.monitor.RecordRequest(monitor.RequestSummary{
			Model:      req.Model,
			TokenName:  meta.TokenName,
			Success:    bridgeErr == nil,
			ErrorKind:  errorKind,
			DurationMS: finished.Sub(start).Milliseconds(),
			FinishedAt: finished,
		})
	}

	usage := auth.UsageRecord{
		TokenName:        meta.TokenName,
		Model:            req.Model,
		Stream:           req.Stream,
		PromptTokens:     req.EstimatePromptTokens(),
		CompletionTokens: completionTokens,
		ClientIP:         meta.ClientIP,
		UserAgent:        meta.UserAgent,
		Country:          meta.Country,
		City:             meta.City,
		Platform:         meta.Platform,
		StartedAt:        start,
		FinishedAt:       finished,
		Failed:           bridgeErr != nil,
		ErrorKind:        errorKind,
	}
	if err := h.tokens.LogUsage(context.Background(), usage); err != nil {
		h.logger.Warn("usage logging failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, bridgeErr *errors.BridgeError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(bridgeErr.HTTPStatusCode())

	resp := ErrorResponse{
		Error: ErrorDetail{
			Message: bridgeErr.Message,
			Type:    errorType(bridgeErr),
			Code:    bridgeErr.Kind,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

func errorType(e *errors.BridgeError) string {
	switch e.HTTPStatusCode() {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusNotFound:
		return "invalid_request_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable_error"
	default:
		return "api_error"
	}
}
