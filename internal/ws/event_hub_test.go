package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestEventHubBroadcastsEventJSON(t *testing.T) {
	hub := NewEventHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	a := dial(t, srv, "")
	b := dial(t, srv, "")
	waitClients(t, hub, 2)

	ev := pipeline.NewEvent("cam_3", pipeline.EventWeaponDetected, 0.87, geometry.Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, "weapon")
	ev.WeaponType = "knife"
	hub.OnEvent(ev)

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "cam_3", got["camera_id"])
		assert.Equal(t, "weapon_detected", got["event_type"])
		assert.Equal(t, "knife", got["weapon_type"])
		assert.Equal(t, 0.87, got["confidence"])
		assert.NotContains(t, got, "Source")
		assert.NotContains(t, got, "held")
		box := got["bounding_box"].(map[string]interface{})
		assert.Equal(t, 0.3, box["width"])
	}
}

func TestEventHubCameraFilter(t *testing.T) {
	hub := NewEventHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "?camera_id=cam_1")
	waitClients(t, hub, 1)

	hub.OnEvent(pipeline.NewEvent("cam_0", pipeline.EventMotion, 0.5, geometry.Box{}, "motion"))
	hub.OnEvent(pipeline.NewEvent("cam_1", pipeline.EventMotion, 0.6, geometry.Box{}, "motion"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"camera_id":"cam_1"`)
}

func TestEventHubDropsDisconnectedClients(t *testing.T) {
	hub := NewEventHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)

	// broadcasting with nobody connected is a no-op
	hub.OnEvent(pipeline.NewEvent("cam_0", pipeline.EventMotion, 0.5, geometry.Box{}, "motion"))
}

func TestEventHubDropsSlowClients(t *testing.T) {
	hub := NewEventHub()
	c := &client{send: make(chan []byte, 1)}
	hub.register(c)

	hub.Broadcast("cam_0", []byte("one"))
	assert.Equal(t, 1, hub.ClientCount())

	hub.Broadcast("cam_0", []byte("two"))
	assert.Equal(t, 0, hub.ClientCount())

	msg, ok := <-c.send
	assert.True(t, ok)
	assert.Equal(t, "one", string(msg))
	_, ok = <-c.send
	assert.False(t, ok)
}
