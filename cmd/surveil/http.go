package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"surveil/internal/auth"
	"surveil/internal/camera"
	"surveil/internal/database"
	"surveil/internal/middleware"
	"surveil/internal/pipeline"
	"surveil/internal/stream"
	"surveil/internal/ws"
)

// eventLister reads persisted events
type eventLister interface {
	ListEvents(ctx context.Context, q database.EventQuery) ([]pipeline.Event, error)
}

// apiServer serves the HTTP surface. scheduler, composer and recorder may
// be nil, in which case /stats omits their section.
type apiServer struct {
	cameras   *camera.Manager
	events    eventLister
	scheduler *pipeline.Scheduler
	composer  *pipeline.Composer
	recorder  *database.Recorder
	hub       *ws.EventHub
	mjpeg     *stream.MJPEGHandler
	auth      *auth.Authenticator
	logger    *log.Logger
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type statsResponse struct {
	Cameras   []camera.Stats           `json:"cameras"`
	Scheduler []pipeline.CameraStats   `json:"scheduler,omitempty"`
	Composer  []pipeline.ComposerStats `json:"composer,omitempty"`
	Recorder  *recorderStats           `json:"recorder,omitempty"`
	Clients   int                      `json:"websocket_clients"`
	Viewers   int                      `json:"stream_viewers"`
}

type recorderStats struct {
	Saved  uint64 `json:"saved"`
	Failed uint64 `json:"failed"`
}

// routes builds the mux. Everything except login sits behind the auth
// middleware, which passes requests through when auth is disabled.
func (s *apiServer) routes() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("GET /cameras", s.handleCameras)
	protected.Handle("GET /stream/{id}", stream.NewSnapshotHandler(s.cameras))
	protected.Handle("GET /stream/{id}/mjpeg", s.mjpeg)
	protected.HandleFunc("GET /events", s.handleEvents)
	protected.HandleFunc("GET /stats", s.handleStats)
	protected.Handle("GET /ws/events", ws.NewHandler(s.hub))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("/", middleware.AuthMiddleware(s.auth)(protected))
	return mux
}

func (s *apiServer) handleCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cameras.List())
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := database.EventQuery{
		CameraID: r.URL.Query().Get("camera_id"),
		Type:     pipeline.EventType(r.URL.Query().Get("type")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = limit
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		q.Since = since
	}

	events, err := s.events.ListEvents(r.Context(), q)
	if err != nil {
		s.logger.Printf("list events: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []pipeline.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Cameras: s.cameras.Stats(),
		Clients: s.hub.ClientCount(),
		Viewers: s.mjpeg.Clients(),
	}
	if s.scheduler != nil {
		resp.Scheduler = s.scheduler.Stats()
	}
	if s.composer != nil {
		resp.Composer = s.composer.Stats()
	}
	if s.recorder != nil {
		resp.Recorder = &recorderStats{Saved: s.recorder.Saved(), Failed: s.recorder.Failed()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		s.logger.Printf("login: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// logRequests logs method, path, status and duration of every request
func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes WebSocket upgrades through to the underlying connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// handleHTTPServer starts the HTTP server on addr. It shuts down the server
// when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, api *apiServer, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {
	handler := api.routes()
	if debug {
		handler = logRequests(logger, handler)
	}

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, route := range []string{"POST /auth/login", "GET /cameras", "GET /stream/{id}", "GET /stream/{id}/mjpeg", "GET /events", "GET /stats", "GET /ws/events"} {
		logger.Printf("HTTP mounted on %s", route)
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
