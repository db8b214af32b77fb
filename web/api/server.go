package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hochfrequenz/claude-automations/internal/service"
	"github.com/hochfrequenz/claude-automations/internal/store"
)

// OutputStreamer taps the live output of a running agent
type OutputStreamer interface {
	SubscribeOutput(runID string) (<-chan string, func())
}

// Server is the HTTP admin API server
type Server struct {
	svc      *service.Service
	streamer OutputStreamer
	addr     string
	mux      *http.ServeMux
	sseHub   *SSEHub
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer creates a new API server and subscribes it to the service's
// run events
func NewServer(svc *service.Service, streamer OutputStreamer, addr string, logger *slog.Logger) *Server {
	s := &Server{
		svc:      svc,
		streamer: streamer,
		addr:     addr,
		mux:      http.NewServeMux(),
		sseHub:   NewSSEHub(),
		logger:   logger,
	}
	s.setupRoutes()
	svc.OnEvent(func(e service.Event) {
		s.sseHub.Broadcast(SSEEvent{Type: e.Type, Data: e.Run})
	})
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/automations", s.automationsHandler())
	s.mux.HandleFunc("/api/automations/", s.automationHandler())
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	go s.sseHub.Run()
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.mux}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.sseHub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeStoreError maps store errors onto HTTP status codes
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
