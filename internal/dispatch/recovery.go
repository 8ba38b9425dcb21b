package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/translator"
	"github.com/lumabridge/lumabridge/pkg/errors"
	"github.com/lumabridge/lumabridge/pkg/types"
)

type pendingResult struct {
	stream *Stream
	err    *errors.BridgeError
}

// pendingRequest states. The waiter and the replay goroutine race for the
// request once the replay has taken the pending slice; whoever wins the
// CAS from waiting decides whether it is dispatched.
const (
	pendingWaiting int32 = iota
	pendingClaimed
	pendingAbandoned
)

type pendingRequest struct {
	fut        chan pendingResult
	req        *types.ChatRequest
	meta       Meta
	originalID string
	state      atomic.Int32
}

// park queues the request until the peer reconnects and a replay fulfils
// the future, or retry_timeout_seconds expires.
func (d *Dispatcher) park(ctx context.Context, cfg *config.Config, req *types.ChatRequest, meta Meta, originalID string) (*Stream, *errors.BridgeError) {
	p := &pendingRequest{
		fut:        make(chan pendingResult, 1),
		req:        req,
		meta:       meta,
		originalID: originalID,
	}
	d.pendMu.Lock()
	d.pending = append(d.pending, p)
	pendingLen := len(d.pending)
	d.pendMu.Unlock()
	d.logger.Info("peer unavailable, request parked for retry",
		"model", req.Model, "pending", pendingLen)

	timer := time.NewTimer(cfg.RetryTimeout())
	defer timer.Stop()

	select {
	case res := <-p.fut:
		return res.stream, res.err
	case <-timer.C:
		if p.state.CompareAndSwap(pendingWaiting, pendingAbandoned) {
			d.unpark(p)
			return nil, errors.NewPeerTimeoutError("browser peer did not reconnect in time").WithModel(req.Model)
		}
		// A replay claimed the request before the timeout landed; its
		// result is imminent.
		res := <-p.fut
		return res.stream, res.err
	case <-ctx.Done():
		if p.state.CompareAndSwap(pendingWaiting, pendingAbandoned) {
			d.unpark(p)
			return nil, errors.NewPeerDisconnectedError("client disconnected while waiting for the peer").WithModel(req.Model)
		}
		res := <-p.fut
		if res.stream != nil {
			d.registry.ReleaseQueue(res.stream.RequestID)
		}
		return nil, errors.NewPeerDisconnectedError("client disconnected while waiting for the peer").WithModel(req.Model)
	}
}

func (d *Dispatcher) unpark(p *pendingRequest) {
	d.pendMu.Lock()
	defer d.pendMu.Unlock()
	for i, q := range d.pending {
		if q == p {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return
		}
	}
}

// onPeerDisconnect clears live queues when auto-retry is off; with it on,
// queues stay intact for the reconnect replay.
func (d *Dispatcher) onPeerDisconnect() {
	cfg := d.manager.Get()
	if cfg.EnableAutoRetry {
		d.logger.Info("peer lost, keeping in-flight requests for replay",
			"in_flight", d.registry.QueueCount())
		return
	}
	for _, id := range d.registry.LiveIDs() {
		d.registry.ReleaseQueue(id)
	}
}

// onPeerConnect replays the pending queue first, then re-sends every
// request that was in flight when the peer dropped. Replays are spaced to
// avoid hammering the fresh page.
func (d *Dispatcher) onPeerConnect() {
	cfg := d.manager.Get()
	if !cfg.EnableAutoRetry {
		return
	}

	d.pendMu.Lock()
	parked := d.pending
	d.pending = nil
	d.pendMu.Unlock()

	inflight := d.registry.LiveIDs()
	if len(parked) == 0 && len(inflight) == 0 {
		return
	}
	d.logger.Info("peer reconnected, replaying requests",
		"parked", len(parked), "in_flight", len(inflight))

	go d.replay(parked, inflight)
}

func (d *Dispatcher) replay(parked []*pendingRequest, inflight []string) {
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	ctx := context.Background()

	for _, p := range parked {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if !p.state.CompareAndSwap(pendingWaiting, pendingClaimed) {
			d.logger.Info("skipping replay, waiter already gone", "model", p.req.Model)
			continue
		}
		stream, dispatchErr := d.dispatchNow(ctx, p.req, p.meta)
		p.fut <- pendingResult{stream: stream, err: dispatchErr}
	}

	for _, oldID := range inflight {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		d.resendInFlight(ctx, oldID)
	}
}

// resendInFlight re-sends a previously dispatched request under a new id,
// keeping the original consumer attached to its queue.
func (d *Dispatcher) resendInFlight(ctx context.Context, oldID string) {
	cfg := d.manager.Get()

	rec, ok := d.registry.Record(oldID)
	if !ok {
		d.logger.Warn("in-flight request lost on reconnect, no metadata", "request_id", oldID)
		d.registry.ReleaseQueue(oldID)
		return
	}

	newID := uuid.NewString()
	_, rec, ok = d.registry.Rebind(oldID, newID)
	if !ok {
		return
	}

	var targetModelID *string
	if entry, found := d.manager.ModelMap()[rec.Model]; found {
		targetModelID = entry.ID
	}

	mode := rec.ModeOverride
	if mode == "" {
		mode = cfg.IDUpdaterLastMode
	}
	battleTarget := rec.BattleTargetOverride
	if battleTarget == "" {
		battleTarget = cfg.IDUpdaterBattleTarget
	}

	payload, err := d.translator.Build(ctx, translator.Params{
		Messages:      rec.MessagesSnapshot,
		ModelType:     rec.ModelType,
		Mode:          mode,
		BattleTarget:  battleTarget,
		TargetModelID: targetModelID,
		SessionID:     rec.SessionID,
		MessageID:     rec.MessageID,
	})
	if err != nil {
		d.logger.Error("replay translation failed", "request_id", newID, "error", err)
		d.registry.ReleaseQueue(newID)
		return
	}

	if sendErr := d.hub.SendRequest(types.PeerRequest{RequestID: newID, Payload: payload}); sendErr != nil {
		d.logger.Error("replay send failed", "request_id", newID, "error", sendErr)
		d.registry.ReleaseQueue(newID)
		return
	}
	d.logger.Info("in-flight request replayed",
		"old_request_id", oldID, "request_id", newID, "model", rec.Model)
}
