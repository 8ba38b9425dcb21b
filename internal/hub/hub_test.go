package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabridge/lumabridge/internal/registry"
	"github.com/lumabridge/lumabridge/pkg/types"
)

func newTestHub(t *testing.T) (*Hub, *registry.Registry, string) {
	t.Helper()
	reg := registry.New(16)
	h := New(reg, discardLogger())
	srv := httptest.NewServer(httpHandler(h))
	t.Cleanup(srv.Close)
	return h, reg, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubRoutesFragmentsToQueue(t *testing.T) {
	h, reg, url := newTestHub(t)

	q := reg.Register(&registry.Record{RequestID: "req-1", CreatedAt: time.Now()})
	conn := dial(t, url)
	waitFor(t, h.Connected)

	require.NoError(t, conn.WriteJSON(types.PeerMessage{
		RequestID: "req-1",
		Data:      json.RawMessage(`"a0:\"hi\""`),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"a0:\"hi\""`, string(data))
}

func TestHubDropsUnknownRequestID(t *testing.T) {
	h, reg, url := newTestHub(t)
	conn := dial(t, url)
	waitFor(t, h.Connected)

	require.NoError(t, conn.WriteJSON(types.PeerMessage{
		RequestID: "ghost",
		Data:      json.RawMessage(`"x"`),
	}))

	// socket stays healthy after the drop
	require.NoError(t, conn.WriteJSON(types.PeerMessage{RequestID: "ghost", Data: json.RawMessage(`"y"`)}))
	assert.Equal(t, 0, reg.QueueCount())
}

func TestHubNewPeerReplacesOld(t *testing.T) {
	h, _, url := newTestHub(t)

	first := dial(t, url)
	waitFor(t, h.Connected)

	_ = dial(t, url)
	waitFor(t, h.Connected)

	// the first socket gets closed by the replacement
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, h.Connected(), "replacement keeps the hub bound")
}

func TestHubSendRequestReachesPeer(t *testing.T) {
	h, _, url := newTestHub(t)
	conn := dial(t, url)
	waitFor(t, h.Connected)

	target := "model-id-1"
	require.NoError(t, h.SendRequest(types.PeerRequest{
		RequestID: "req-9",
		Payload: types.BridgePayload{
			TargetModelID: &target,
			SessionID:     "s",
			MessageID:     "m",
			MessageTemplates: []types.MessageTemplate{
				{Role: "user", Content: "hi", Attachments: []types.Attachment{}},
			},
		},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got types.PeerRequest
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "req-9", got.RequestID)
	require.NotNil(t, got.Payload.TargetModelID)
	assert.Equal(t, "model-id-1", *got.Payload.TargetModelID)
}

func TestHubSendWithoutPeer(t *testing.T) {
	h := New(registry.New(16), discardLogger())
	err := h.SendCommand(types.CommandReconnect)
	assert.ErrorIs(t, err, ErrNoPeer)
}

func TestHubDisconnectCallback(t *testing.T) {
	h, _, url := newTestHub(t)

	var disconnects atomic.Int32
	h.OnDisconnect(func() { disconnects.Add(1) })

	conn := dial(t, url)
	waitFor(t, h.Connected)
	_ = conn.Close()

	waitFor(t, func() bool { return disconnects.Load() == 1 })
	assert.False(t, h.Connected())
}

func TestHubTriggerRefreshOneShot(t *testing.T) {
	h, _, url := newTestHub(t)
	conn := dial(t, url)
	waitFor(t, h.Connected)

	assert.True(t, h.TriggerRefresh())
	assert.False(t, h.TriggerRefresh(), "second trigger is suppressed while pending")
	assert.True(t, h.Refreshing())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd types.PeerCommand
	require.NoError(t, conn.ReadJSON(&cmd))
	assert.Equal(t, types.CommandRefresh, cmd.Command)

	// reconnecting clears the flag
	_ = conn.Close()
	_ = dial(t, url)
	waitFor(t, func() bool { return h.Connected() && !h.Refreshing() })
}
