package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc produces the /status document.
type StatusFunc func(ctx context.Context) any

// Server runs an HTTP server exposing /metrics, /healthz and /status.
type Server struct {
	addr   string
	router *mux.Router
	srv    *http.Server
}

// NewServer creates a metrics and health server. status may be nil.
func NewServer(addr string, m *Metrics, health *HealthStatus, status StatusFunc) *Server {
	r := NewRouter(m, health, status)
	return &Server{
		addr:   addr,
		router: r,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an extra GET handler, e.g. the /ws event stream. Call before Run.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h).Methods(http.MethodGet)
}

// NewRouter builds the handler tree.
func NewRouter(m *Metrics, health *HealthStatus, status StatusFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/healthz", health).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		if status == nil {
			http.Error(w, "status not available", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status(req.Context())); err != nil {
			log.Printf("[metrics] status encode: %v", err)
		}
	}).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
