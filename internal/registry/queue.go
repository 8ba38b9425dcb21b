// Package registry tracks in-flight relayed requests: one event queue and
// one metadata record per request id.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
)

// ErrQueueClosed is returned when pushing to or popping from a closed queue.
var ErrQueueClosed = errors.New("event queue closed")

// EventQueue is a bounded queue of raw upstream fragments for one request.
// The hub pushes, the stream parser pops. Closing the queue is the terminal
// signal for the consumer; fragments already buffered stay readable.
type EventQueue struct {
	ch        chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventQueue creates a queue holding up to capacity fragments.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventQueue{
		ch:   make(chan json.RawMessage, capacity),
		done: make(chan struct{}),
	}
}

// Push appends a fragment, blocking while the queue is full.
func (q *EventQueue) Push(ctx context.Context, data json.RawMessage) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- data:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the next fragment, blocking until one arrives, the queue is
// closed and drained, or the context expires.
func (q *EventQueue) Pop(ctx context.Context) (json.RawMessage, error) {
	// Drain buffered fragments before honouring closure.
	select {
	case data := <-q.ch:
		return data, nil
	default:
	}

	select {
	case data := <-q.ch:
		return data, nil
	case <-q.done:
		// A fragment may have raced in alongside the close.
		select {
		case data := <-q.ch:
			return data, nil
		default:
		}
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the queue terminal. Safe to call more than once.
func (q *EventQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *EventQueue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered fragments.
func (q *EventQueue) Len() int {
	return len(q.ch)
}
