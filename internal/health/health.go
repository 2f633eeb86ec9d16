package health

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the detection loop
const ServiceName = "surveil.Scheduler"

// minStaleAfter keeps very fast schedulers from flapping
const minStaleAfter = 5 * time.Second

// TickSource reports the liveness of a periodic loop
type TickSource interface {
	LastTick() time.Time
	Interval() time.Duration
}

// Monitor mirrors scheduler liveness into a gRPC health server. The loop is
// SERVING while it has ticked within three visit intervals.
type Monitor struct {
	source     TickSource
	staleAfter time.Duration
	clock      func() time.Time
	srv        *health.Server
}

// NewMonitor creates a monitor. The initial status is NOT_SERVING until the first check.
func NewMonitor(source TickSource) *Monitor {
	m := &Monitor{
		source:     source,
		staleAfter: max(3*source.Interval(), minStaleAfter),
		clock:      time.Now,
		srv:        health.NewServer(),
	}
	m.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	m.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// StaleAfter returns how long the loop may be silent before it is unhealthy
func (m *Monitor) StaleAfter() time.Duration { return m.staleAfter }

// HealthServer returns the gRPC health implementation
func (m *Monitor) HealthServer() *health.Server { return m.srv }

// Check recomputes and publishes the serving status
func (m *Monitor) Check() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if last := m.source.LastTick(); !last.IsZero() && m.clock().Sub(last) <= m.staleAfter {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.srv.SetServingStatus(ServiceName, status)
	m.srv.SetServingStatus("", status)
	return status
}

// Run checks every period until ctx is done, then marks everything NOT_SERVING
func (m *Monitor) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	prev := m.Check()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		case <-ticker.C:
			if status := m.Check(); status != prev {
				log.Printf("[Health] %s is now %s", ServiceName, status)
				prev = status
			}
		}
	}
}

// Server exposes the monitor over gRPC
type Server struct {
	monitor  *Monitor
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a gRPC server with the health service registered
func NewServer(monitor *Monitor) *Server {
	s := &Server{
		monitor: monitor,
		server:  grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, monitor.HealthServer())
	return s
}

// Start binds addr and serves in the background
func (s *Server) Start(addr string) error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[Health] gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[Health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.server.GracefulStop()
	s.wg.Wait()
	log.Printf("[Health] gRPC server stopped")
}
