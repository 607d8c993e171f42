// Package health serves the rig's health check and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RigStatus is the state machine's view reported by /healthz.
type RigStatus struct {
	Rig        string    `json:"rig"`
	State      string    `json:"state"`
	Paused     bool      `json:"paused"`
	StateSince time.Time `json:"state_since"`
	Trials     int64     `json:"trials"`
}

// Pinger checks a dependency, e.g. the Redis monitor.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP health and metrics endpoints.
type Server struct {
	addr    string
	status  func() RigStatus
	redis   Pinger
	metrics http.Handler
	server  *http.Server
}

// NewServer creates a server on addr. redis and metrics may be nil.
func NewServer(addr string, status func() RigStatus, redis Pinger, metrics http.Handler) *Server {
	return &Server{addr: addr, status: status, redis: redis, metrics: metrics}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthCheckHandler)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", s.addr, err)
	}
	s.server = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] Health server error: %v", err)
		}
	}()
	log.Printf("[INFO] Health server listening on %s", ln.Addr())
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status string    `json:"status"` // healthy, degraded
	Rig    RigStatus `json:"rig"`
	Redis  string    `json:"redis,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// healthCheckHandler reports the rig state. A disconnected monitor degrades
// the status but the rig keeps running, so the response stays 200.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy"}
	if s.status != nil {
		response.Rig = s.status()
	}

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx); err != nil {
			response.Status = "degraded"
			response.Redis = "disconnected"
			response.Error = err.Error()
		} else {
			response.Redis = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
