// Package server exposes the bridge's request surface over HTTP:
// connect/disconnect triggers, a status snapshot, the lifecycle event
// log and Prometheus metrics. Failures cross this boundary as
// structured results with a message, never as an unhandled fault.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/armbridge/armbridge/internal/bridge"
	"github.com/armbridge/armbridge/internal/logging"
)

// Bridge is the slice of the connection manager the server drives.
type Bridge interface {
	Connect(ctx context.Context, port int, host string) (bridge.ConnectResult, error)
	Disconnect() (bridge.DisconnectResult, error)
	Status() bridge.Status
}

// EventSource reads the lifecycle event log.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]bridge.Event, error)
}

// Options configures a Server.
type Options struct {
	Addr    string
	Bridge  Bridge
	Events  EventSource  // optional; /api/events returns 404 when nil
	Metrics http.Handler // optional; /metrics returns 404 when nil
	Logger  *logging.Logger

	// BaseContext bounds the lifetime of loops spawned by connect
	// requests. It must outlive individual requests; the daemon's
	// shutdown context is the usual choice.
	BaseContext context.Context
}

// Server is the HTTP API server.
type Server struct {
	addr    string
	bridge  Bridge
	events  EventSource
	metrics http.Handler
	log     *logging.Logger
	baseCtx context.Context

	router *chi.Mux
	server *http.Server
}

// New creates a Server. Construction fails without a bridge.
func New(opts Options) (*Server, error) {
	if opts.Bridge == nil {
		return nil, errors.New("bridge is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	s := &Server{
		addr:    opts.Addr,
		bridge:  opts.Bridge,
		events:  opts.Events,
		metrics: opts.Metrics,
		log:     log,
		baseCtx: baseCtx,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)

	s.router.Post("/api/connect", s.handleConnect)
	s.router.Post("/api/disconnect", s.handleDisconnect)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/events", s.handleEvents)

	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// Handler returns the routed handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ConnectRequest is the body of POST /api/connect.
type ConnectRequest struct {
	Port int    `json:"port"`
	Host string `json:"host,omitempty"`
}

// ConnectResponse is the body of POST /api/connect responses.
type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message"`
}

// DisconnectResponse is the body of POST /api/disconnect responses.
type DisconnectResponse struct {
	Disconnected bool   `json:"disconnected"`
	Message      string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ConnectResponse{Message: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	// The loop spawned here must outlive this request, so the base
	// context bounds it, not r.Context().
	res, err := s.bridge.Connect(s.baseCtx, req.Port, req.Host)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, bridge.ErrInvalidPort):
			status = http.StatusBadRequest
		case errors.Is(err, bridge.ErrStuckLoop):
			status = http.StatusConflict
		}
		writeJSON(w, status, ConnectResponse{Message: err.Error()})
		return
	}

	msg := "connected"
	if res.Already {
		msg = "already connected"
	}
	writeJSON(w, http.StatusOK, ConnectResponse{Connected: true, Message: msg})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	res, err := s.bridge.Disconnect()
	if err != nil {
		// A join timeout means the loop is stuck; the operator must
		// see this, not a clean "disconnected".
		writeJSON(w, http.StatusInternalServerError, DisconnectResponse{Message: err.Error()})
		return
	}

	msg := "disconnected"
	if res.Already {
		msg = "already disconnected"
	}
	writeJSON(w, http.StatusOK, DisconnectResponse{Disconnected: true, Message: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	if events == nil {
		events = []bridge.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
