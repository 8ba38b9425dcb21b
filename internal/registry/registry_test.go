package registry

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueuePushPop(t *testing.T) {
	q := NewEventQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, json.RawMessage(`"a"`)))
	require.NoError(t, q.Push(ctx, json.RawMessage(`"b"`)))

	data, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(data))

	data, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"b"`, string(data))
}

func TestEventQueuePopTimeout(t *testing.T) {
	q := NewEventQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventQueueCloseDrainsBuffered(t *testing.T) {
	q := NewEventQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, json.RawMessage(`"last"`)))
	q.Close()
	q.Close() // idempotent

	data, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"last"`, string(data))

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)

	err = q.Push(ctx, json.RawMessage(`"late"`))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRegistryLifecycle(t *testing.T) {
	r := New(16)

	rec := &Record{RequestID: "req-1", CreatedAt: time.Now(), Model: "m1", Stream: true}
	q := r.Register(rec)
	require.NotNil(t, q)
	assert.Equal(t, 1, r.QueueCount())

	got, ok := r.Queue("req-1")
	require.True(t, ok)
	assert.Same(t, q, got)

	gotRec, ok := r.Record("req-1")
	require.True(t, ok)
	assert.Equal(t, "m1", gotRec.Model)

	assert.Equal(t, PushOK, r.Push("req-1", json.RawMessage(`"x"`)))
	assert.Equal(t, PushUnknownID, r.Push("unknown", json.RawMessage(`"x"`)), "unknown ids are dropped")

	r.ReleaseQueue("req-1")
	assert.Equal(t, 0, r.QueueCount())
	assert.Equal(t, 1, r.RecordCount(), "record survives queue release")
	assert.False(t, gotRec.CompletedAt.IsZero())
	assert.True(t, q.Closed())

	r.RemoveRecord("req-1")
	assert.Equal(t, 0, r.RecordCount())
}

func TestRegistryPushOutcomes(t *testing.T) {
	r := New(1)
	r.Register(&Record{RequestID: "req-1", CreatedAt: time.Now()})

	assert.Equal(t, PushOK, r.Push("req-1", json.RawMessage(`"a"`)))
	assert.Equal(t, PushQueueFull, r.Push("req-1", json.RawMessage(`"b"`)), "capacity 1 queue rejects the second fragment")

	r.ReleaseQueue("req-1")
	assert.Equal(t, PushUnknownID, r.Push("req-1", json.RawMessage(`"c"`)), "released queues are removed from the map")
}

func TestRegistryRegisterReplacesExisting(t *testing.T) {
	r := New(16)
	q1 := r.Register(&Record{RequestID: "req-1", CreatedAt: time.Now()})
	q2 := r.Register(&Record{RequestID: "req-1", CreatedAt: time.Now()})

	assert.True(t, q1.Closed())
	assert.False(t, q2.Closed())
	assert.Equal(t, 1, r.QueueCount())
}

func TestRegistryReapStale(t *testing.T) {
	r := New(16)

	old := &Record{RequestID: "old", CreatedAt: time.Now().Add(-time.Hour)}
	r.Register(old)
	r.ReleaseQueue("old")
	old.CompletedAt = time.Now().Add(-time.Hour)

	live := &Record{RequestID: "live", CreatedAt: time.Now().Add(-time.Hour)}
	r.Register(live)

	fresh := &Record{RequestID: "fresh", CreatedAt: time.Now()}
	r.Register(fresh)
	r.ReleaseQueue("fresh")

	removed := r.ReapStale(30 * time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := r.Record("old")
	assert.False(t, ok)
	_, ok = r.Record("live")
	assert.True(t, ok, "records with a live queue are never reaped")
	_, ok = r.Record("fresh")
	assert.True(t, ok)
}
