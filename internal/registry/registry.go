package registry

import (
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/lumabridge/lumabridge/pkg/types"
)

// Record is the metadata kept for one relayed request. MessagesSnapshot
// holds the original client messages so a pending request can be replayed
// after a peer reconnect.
type Record struct {
	RequestID string
	CreatedAt time.Time
	Model     string
	ModelType string
	Stream    bool

	MessagesSnapshot []types.ChatMessage

	SessionID            string
	MessageID            string
	ModeOverride         string
	BattleTargetOverride string

	TokenName string
	ClientIP  string
	UserAgent string
	Country   string
	City      string
	Platform  string

	// CompletedAt is zero while the request is live. Set when the queue is
	// released; the monitor reaps completed records after the metadata
	// timeout.
	CompletedAt time.Time
}

// Registry maps request ids to their event queues and metadata records.
// Queue and record are always created together; the record outlives the
// queue until usage logging finishes or the reaper collects it.
type Registry struct {
	mu      sync.RWMutex
	queues  map[string]*EventQueue
	records map[string]*Record

	queueCapacity int
}

// New creates an empty registry. queueCapacity bounds each event queue.
func New(queueCapacity int) *Registry {
	return &Registry{
		queues:        map[string]*EventQueue{},
		records:       map[string]*Record{},
		queueCapacity: queueCapacity,
	}
}

// Register creates the queue and record for a request id. An existing entry
// under the same id is closed and replaced.
func (r *Registry) Register(rec *Record) *EventQueue {
	q := NewEventQueue(r.queueCapacity)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.queues[rec.RequestID]; ok {
		old.Close()
	}
	r.queues[rec.RequestID] = q
	r.records[rec.RequestID] = rec
	return q
}

// Queue returns the live queue for a request id.
func (r *Registry) Queue(requestID string) (*EventQueue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[requestID]
	return q, ok
}

// Record returns the metadata record for a request id.
func (r *Registry) Record(requestID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[requestID]
	return rec, ok
}

// PushOutcome tells the caller why a fragment was or was not delivered.
type PushOutcome int

const (
	PushOK PushOutcome = iota
	PushUnknownID
	PushQueueClosed
	PushQueueFull
)

// Push routes an inbound fragment to the request's queue. Undeliverable
// fragments are dropped; the outcome says why, so the hub can tell an
// orphaned fragment from backpressure.
func (r *Registry) Push(requestID string, data json.RawMessage) PushOutcome {
	r.mu.RLock()
	q, ok := r.queues[requestID]
	r.mu.RUnlock()
	if !ok {
		return PushUnknownID
	}

	select {
	case q.ch <- data:
		return PushOK
	case <-q.done:
		return PushQueueClosed
	default:
		// Full queue: drop rather than stall the socket read loop.
		return PushQueueFull
	}
}

// Rebind moves a live queue and its record to a fresh request id, keeping
// the consumer attached across a peer reconnect replay.
func (r *Registry) Rebind(oldID, newID string) (*EventQueue, *Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[oldID]
	rec, recOK := r.records[oldID]
	if !ok || !recOK {
		return nil, nil, false
	}
	delete(r.queues, oldID)
	delete(r.records, oldID)
	rec.RequestID = newID
	r.queues[newID] = q
	r.records[newID] = rec
	return q, rec, true
}

// ReleaseQueue closes and removes the queue, marking the record completed.
// The record itself stays until RemoveRecord or the reaper.
func (r *Registry) ReleaseQueue(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[requestID]; ok {
		q.Close()
		delete(r.queues, requestID)
	}
	if rec, ok := r.records[requestID]; ok && rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
}

// RemoveRecord drops the metadata record once usage logging is done.
func (r *Registry) RemoveRecord(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, requestID)
}

// LiveIDs returns the ids of requests whose queue is still registered.
func (r *Registry) LiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.queues))
	for id := range r.queues {
		ids = append(ids, id)
	}
	return ids
}

// QueueCount returns the number of live queues.
func (r *Registry) QueueCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// RecordCount returns the number of retained records.
func (r *Registry) RecordCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// ReapStale removes records older than maxAge that no longer have a live
// queue, plus completed records past the timeout. Returns how many were
// dropped.
func (r *Registry) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		if _, live := r.queues[id]; live {
			continue
		}
		ref := rec.CompletedAt
		if ref.IsZero() {
			ref = rec.CreatedAt
		}
		if ref.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}
