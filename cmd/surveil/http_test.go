package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveil/internal/auth"
	"surveil/internal/camera"
	"surveil/internal/database"
	"surveil/internal/geometry"
	"surveil/internal/pipeline"
	"surveil/internal/stream"
	"surveil/internal/ws"
)

type fakeEvents struct {
	got    database.EventQuery
	events []pipeline.Event
}

func (f *fakeEvents) ListEvents(_ context.Context, q database.EventQuery) ([]pipeline.Event, error) {
	f.got = q
	return f.events, nil
}

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}

func newTestAPI(t *testing.T, authOpts auth.Options) (*apiServer, *fakeEvents) {
	t.Helper()
	cams, err := camera.NewManager([]camera.Config{
		{ID: "cam_0", Name: "Camera 0", Location: "Lobby"},
		{ID: "cam_1", Name: "Camera 1", Location: "Rooftop"},
	}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, cams.Push("cam_0", jpegBytes))

	authenticator, err := auth.NewAuthenticator(authOpts)
	require.NoError(t, err)

	events := &fakeEvents{}
	hub := ws.NewEventHub()
	t.Cleanup(hub.Close)

	return &apiServer{
		cameras: cams,
		events:  events,
		hub:     hub,
		mjpeg:   stream.NewMJPEGHandler(cams, stream.DefaultFPS),
		auth:    authenticator,
		logger:  log.New(io.Discard, "", 0),
	}, events
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCamerasEndpoint(t *testing.T) {
	api, _ := newTestAPI(t, auth.Options{})
	rec := do(t, api.routes(), http.MethodGet, "/cameras", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []camera.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, camera.StatusOnline, infos[0].Status)
	assert.Equal(t, "/stream/cam_0", infos[0].StreamURL)
	assert.Equal(t, camera.StatusOffline, infos[1].Status)
}

func TestStreamEndpoint(t *testing.T) {
	api, _ := newTestAPI(t, auth.Options{})
	h := api.routes()

	rec := do(t, h, http.MethodGet, "/stream/cam_0", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, jpegBytes, rec.Body.Bytes())

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/stream/cam_1", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/stream/cam_9", nil, nil).Code)
}

func TestEventsEndpoint(t *testing.T) {
	api, events := newTestAPI(t, auth.Options{})
	events.events = []pipeline.Event{
		pipeline.NewEvent("cam_0", pipeline.EventMotion, 0.4, geometry.Box{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}, "motion"),
	}
	h := api.routes()

	rec := do(t, h, http.MethodGet, "/events?camera_id=cam_0&type=motion&limit=5&since=2026-01-01T00:00:00Z", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cam_0", events.got.CameraID)
	assert.Equal(t, pipeline.EventMotion, events.got.Type)
	assert.Equal(t, 5, events.got.Limit)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), events.got.Since.UTC())

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "motion", got[0]["event_type"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/events?limit=zero", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/events?since=yesterday", nil, nil).Code)

	events.events = nil
	rec = do(t, h, http.MethodGet, "/events", nil, nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestStatsEndpoint(t *testing.T) {
	api, _ := newTestAPI(t, auth.Options{})
	rec := do(t, api.routes(), http.MethodGet, "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats.Cameras, 2)
	assert.Equal(t, uint64(1), stats.Cameras[0].FramesCaptured)
	assert.Nil(t, stats.Recorder)
}

func TestAuthFlow(t *testing.T) {
	api, _ := newTestAPI(t, auth.Options{Enabled: true, Username: "admin", Password: "hunter2", JWTSecret: "test"})
	h := api.routes()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/cameras", nil, nil).Code)

	bad := do(t, h, http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"nope"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/auth/login", strings.NewReader(`{`), nil).Code)

	rec := do(t, h, http.MethodPost, "/auth/login", bytes.NewBufferString(`{"username":"admin","password":"hunter2"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.Greater(t, login.ExpiresAt, time.Now().Unix())

	header := http.Header{"Authorization": {"Bearer " + login.Token}}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/cameras", nil, header).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/stats?token="+login.Token, nil, nil).Code)
}

func TestLoginWhenAuthDisabled(t *testing.T) {
	api, _ := newTestAPI(t, auth.Options{})
	rec := do(t, api.routes(), http.MethodPost, "/auth/login", strings.NewReader(`{"username":"admin","password":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWebSocket(t *testing.T) {
	api, _ := newTestAPI(t, auth.Options{})
	srv := httptest.NewServer(logRequests(api.logger, api.routes()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return api.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := pipeline.NewEvent("cam_0", pipeline.EventPersonDetected, 0.9, geometry.Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, "person")
	api.hub.OnEvent(ev)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, ev.ID, got["id"])
	assert.Equal(t, "person_detected", got["event_type"])
	assert.Equal(t, "cam_0", got["camera_id"])
}
