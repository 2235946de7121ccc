package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/pipeline"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// newTestServer waits for every client to unregister before closing, so no
// hub goroutine logs after the test returns.
func newTestServer(t *testing.T, hub *Hub, defaultSource string) *httptest.Server {
	srv := httptest.NewServer(NewHandler(hub, defaultSource))
	t.Cleanup(func() {
		waitForClients(t, hub, 0)
		srv.Close()
	})
	return srv
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHubBroadcastsPipelineEvents(t *testing.T) {
	hub := NewHub(2, logs.NewTestingLog(t))
	srv := newTestServer(t, hub, "cam1")

	conn := dial(t, srv, "")
	other := dial(t, srv, "?source=cam2")
	waitForClients(t, hub, 2)
	assert.True(t, hub.HasClients("cam1"))

	hub.OnStatus(pipeline.StatusEvent{SourceID: "cam1", Status: pipeline.StatusRunning})
	msg := readMessage(t, conn)
	assert.Equal(t, TypeStatus, msg["type"])
	assert.Equal(t, "running", msg["status"])

	// Seq 1: one violation, no stats
	hub.OnFrameResult(&pipeline.FrameResult{
		SourceID:   "cam1",
		Seq:        1,
		Violations: []pipeline.ViolationRecord{{ID: "v1", SourceID: "cam1", TrackID: 7}},
	})
	msg = readMessage(t, conn)
	assert.Equal(t, TypeViolation, msg["type"])
	violation := msg["violation"].(map[string]any)
	assert.Equal(t, "v1", violation["id"])

	// Seq 2: stats
	hub.OnFrameResult(&pipeline.FrameResult{SourceID: "cam1", Seq: 2, Light: pipeline.LightState{Color: pipeline.LightGreen}})
	msg = readMessage(t, conn)
	assert.Equal(t, TypeStats, msg["type"])
	assert.Equal(t, "green", msg["light"].(map[string]any)["color"])

	// Nothing was sent to the other source
	other.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(1, logs.NewTestingLog(t))
	srv := newTestServer(t, hub, "cam1")

	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
	assert.False(t, hub.HasClients("cam1"))
}

func TestHandlerRequiresSource(t *testing.T) {
	hub := NewHub(1, logs.NewTestingLog(t))
	srv := newTestServer(t, hub, "")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
