package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/lumabridge/lumabridge/pkg/errors"
)

// StartIDCapture handles POST /internal/start_id_capture: asks the
// userscript to report the next session the operator clicks through.
func (h *Handler) StartIDCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.SendCommand("activate_id_capture"); err != nil {
		h.writeError(w, errors.NewPeerDisconnectedError("browser peer is not connected"))
		return
	}
	h.logger.Info("id capture activated on peer")
	h.writeStatus(w, "id capture activated")
}

// updateIDsRequest is the body posted by the userscript after a capture.
type updateIDsRequest struct {
	SessionID    string `json:"sessionId"`
	MessageID    string `json:"messageId"`
	Mode         string `json:"mode,omitempty"`
	BattleTarget string `json:"battle_target,omitempty"`
}

// UpdateIDs handles POST /internal/update_ids: persists freshly captured
// session ids into the config file and reloads.
func (h *Handler) UpdateIDs(w http.ResponseWriter, r *http.Request) {
	var req updateIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.NewBadRequestError("invalid JSON: "+err.Error()))
		return
	}
	if req.SessionID == "" || req.MessageID == "" {
		h.writeError(w, errors.NewBadRequestError("sessionId and messageId are required"))
		return
	}

	if err := h.manager.SaveCapturedIDs(req.SessionID, req.MessageID, req.Mode, req.BattleTarget); err != nil {
		h.logger.Error("failed to persist captured ids", "error", err)
		h.writeError(w, errors.NewInternalError("failed to persist captured ids"))
		return
	}
	h.logger.Info("captured ids persisted",
		"session_id", req.SessionID, "mode", req.Mode, "battle_target", req.BattleTarget)
	h.writeStatus(w, "ids updated")
}

// RequestModelUpdate handles POST /internal/request_model_update: asks the
// peer to send the page source so available models can be refreshed.
func (h *Handler) RequestModelUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.SendCommand("send_page_source"); err != nil {
		h.writeError(w, errors.NewPeerDisconnectedError("browser peer is not connected"))
		return
	}
	h.writeStatus(w, "model update requested")
}

// UpdateAvailableModels handles POST /internal/update_available_models:
// accepts the model list the userscript extracted and persists it next to
// the config files.
func (h *Handler) UpdateAvailableModels(w http.ResponseWriter, r *http.Request) {
	var models []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&models); err != nil {
		h.writeError(w, errors.NewBadRequestError("expected a JSON array of models"))
		return
	}
	if len(models) == 0 {
		h.writeError(w, errors.NewBadRequestError("model list is empty"))
		return
	}

	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		h.writeError(w, errors.NewInternalError("failed to serialize model list"))
		return
	}
	path := h.availableModelsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		h.logger.Error("failed to write available models", "path", path, "error", err)
		h.writeError(w, errors.NewInternalError("failed to persist model list"))
		return
	}
	h.logger.Info("available models updated", "count", len(models), "path", path)
	h.writeStatus(w, "available models updated")
}

// Status handles GET /internal/status: peer state plus rolling counters.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"peer_connected":   h.hub.Connected(),
		"peer_refreshing":  h.hub.Refreshing(),
		"pending_requests": h.dispatcher.PendingCount(),
	}
	if h.monitor != nil {
		out["requests"] = h.monitor.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("failed to encode status", "error", err)
	}
}

func (h *Handler) availableModelsPath() string {
	return filepath.Join(filepath.Dir(h.manager.ConfigPath()), "available_models.json")
}

func (h *Handler) writeStatus(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": message})
}
