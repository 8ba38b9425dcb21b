// Package dispatch owns the per-request relay pipeline: endpoint selection,
// registration, translation, the send to the browser peer, and the pending
// queue used while the peer is away.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/hub"
	"github.com/lumabridge/lumabridge/internal/registry"
	"github.com/lumabridge/lumabridge/internal/translator"
	"github.com/lumabridge/lumabridge/pkg/errors"
	"github.com/lumabridge/lumabridge/pkg/types"
)

// Meta carries per-request client context for usage logging.
type Meta struct {
	TokenName string
	ClientIP  string
	UserAgent string
	Country   string
	City      string
	Platform  string
}

// Stream is a dispatched request: the id the peer will answer to and the
// queue its fragments arrive on.
type Stream struct {
	RequestID string
	Queue     *registry.EventQueue
	Record    *registry.Record
}

// Dispatcher routes chat completions to the browser peer.
type Dispatcher struct {
	manager    *config.Manager
	registry   *registry.Registry
	hub        *hub.Hub
	translator *translator.Translator
	logger     *slog.Logger

	rrMu    sync.Mutex
	rrIndex map[string]uint

	pendMu  sync.Mutex
	pending []*pendingRequest
}

// New wires a dispatcher and registers the peer lifecycle hooks.
func New(manager *config.Manager, reg *registry.Registry, h *hub.Hub, tr *translator.Translator, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		manager:    manager,
		registry:   reg,
		hub:        h,
		translator: tr,
		logger:     logger,
		rrIndex:    map[string]uint{},
	}
	h.OnConnect(d.onPeerConnect)
	h.OnDisconnect(d.onPeerDisconnect)
	return d
}

// Dispatch runs the pipeline for one request. When the peer is away and
// auto-retry is on, the call parks in the pending queue until replayed or
// timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.ChatRequest, meta Meta) (*Stream, *errors.BridgeError) {
	cfg := d.manager.Get()

	if !d.peerReady() {
		if !cfg.EnableAutoRetry {
			return nil, errors.NewPeerDisconnectedError("browser peer is not connected").WithModel(req.Model)
		}
		return d.park(ctx, cfg, req, meta, "")
	}
	return d.dispatchNow(ctx, req, meta)
}

// peerReady means connected and not mid human-verification refresh.
func (d *Dispatcher) peerReady() bool {
	return d.hub.Connected() && !d.hub.Refreshing()
}

func (d *Dispatcher) dispatchNow(ctx context.Context, req *types.ChatRequest, meta Meta) (*Stream, *errors.BridgeError) {
	cfg := d.manager.Get()

	modelType, mapping, err := d.resolveEndpoint(cfg, req.Model)
	if err != nil {
		return nil, err
	}

	mode := mapping.Mode
	if mode == "" {
		mode = cfg.IDUpdaterLastMode
	}
	battleTarget := mapping.BattleTarget
	if battleTarget == "" {
		battleTarget = cfg.IDUpdaterBattleTarget
	}

	var targetModelID *string
	if entry, ok := d.manager.ModelMap()[req.Model]; ok {
		targetModelID = entry.ID
	}

	requestID := uuid.NewString()
	record := &registry.Record{
		RequestID:            requestID,
		CreatedAt:            time.Now(),
		Model:                req.Model,
		ModelType:            modelType,
		Stream:               req.Stream,
		MessagesSnapshot:     req.Messages,
		SessionID:            mapping.SessionID,
		MessageID:            mapping.MessageID,
		ModeOverride:         mode,
		BattleTargetOverride: battleTarget,
		TokenName:            meta.TokenName,
		ClientIP:             meta.ClientIP,
		UserAgent:            meta.UserAgent,
		Country:              meta.Country,
		City:                 meta.City,
		Platform:             meta.Platform,
	}
	queue := d.registry.Register(record)

	payload, buildErr := d.translator.Build(ctx, translator.Params{
		Messages:      req.Messages,
		ModelType:     modelType,
		Mode:          mode,
		BattleTarget:  battleTarget,
		TargetModelID: targetModelID,
		SessionID:     mapping.SessionID,
		MessageID:     mapping.MessageID,
	})
	if buildErr != nil {
		d.Finish(requestID)
		if bridgeErr, ok := buildErr.(*errors.BridgeError); ok {
			return nil, bridgeErr.WithModel(req.Model)
		}
		return nil, errors.NewInternalError(buildErr.Error()).WithModel(req.Model)
	}

	if sendErr := d.hub.SendRequest(types.PeerRequest{RequestID: requestID, Payload: payload}); sendErr != nil {
		d.Finish(requestID)
		return nil, errors.NewPeerDisconnectedError("browser peer dropped before the request could be sent").WithModel(req.Model)
	}

	d.logger.Info("request relayed to peer",
		"request_id", requestID,
		"model", req.Model,
		"model_type", modelType,
		"stream", req.Stream,
		"session_id", mapping.SessionID,
	)
	return &Stream{RequestID: requestID, Queue: queue, Record: record}, nil
}

// resolveEndpoint picks the session binding and model type for a model
// name, applying round-robin over list mappings.
func (d *Dispatcher) resolveEndpoint(cfg *config.Config, model string) (string, config.EndpointMapping, *errors.BridgeError) {
	modelType := config.ModelTypeText
	if entry, ok := d.manager.ModelMap()[model]; ok && entry.Type != "" {
		modelType = entry.Type
	}

	binding, ok := d.manager.EndpointMap()[model]
	if ok && len(binding.Mappings) > 0 {
		mapping := binding.Mappings[0]
		if binding.List {
			d.rrMu.Lock()
			idx := d.rrIndex[model] % uint(len(binding.Mappings))
			d.rrIndex[model] = (idx + 1) % uint(len(binding.Mappings))
			d.rrMu.Unlock()
			mapping = binding.Mappings[idx]
		}
		if mapping.Type != "" {
			modelType = mapping.Type
		}
		if mapping.SessionID == "" || mapping.MessageID == "" {
			return modelType, mapping, errors.NewSessionUnresolvedError("endpoint mapping for this model has empty session ids").WithModel(model)
		}
		return modelType, mapping, nil
	}

	if !cfg.UseDefaultIDsIfMappingNotFound {
		return modelType, config.EndpointMapping{}, errors.NewSessionUnresolvedError("no endpoint mapping for this model and default ids are disabled").WithModel(model)
	}
	if cfg.SessionID == "" || cfg.MessageID == "" {
		return modelType, config.EndpointMapping{}, errors.NewSessionUnresolvedError("no session ids captured yet, run the id updater first").WithModel(model)
	}
	return modelType, config.EndpointMapping{SessionID: cfg.SessionID, MessageID: cfg.MessageID}, nil
}

// Finish releases the registry state for a completed request. Safe to call
// once per request after the assembler drains.
func (d *Dispatcher) Finish(requestID string) {
	d.registry.ReleaseQueue(requestID)
	d.registry.RemoveRecord(requestID)
}

// RoundRobinIndex exposes the current index for one model, for tests and
// the status endpoint.
func (d *Dispatcher) RoundRobinIndex(model string) uint {
	d.rrMu.Lock()
	defer d.rrMu.Unlock()
	return d.rrIndex[model]
}

// PendingCount reports how many requests are parked.
func (d *Dispatcher) PendingCount() int {
	d.pendMu.Lock()
	defer d.pendMu.Unlock()
	return len(d.pending)
}
