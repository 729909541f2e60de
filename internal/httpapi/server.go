package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chatdump/internal/session"
)

// StatusSource reports the live session state.
type StatusSource interface {
	Status() session.Status
}

// EventCounter counts archived events for a session.
type EventCounter interface {
	CountEvents(ctx context.Context, sessionID string) (int64, error)
}

type Options struct {
	Addr            string
	RateLimitRPS    int
	RateLimitBurst  int
	EnableAccessLog bool
	// Registry receives the listener's collectors and is served on /metrics.
	// Nil uses a private registry.
	Registry        *prometheus.Registry
	ConfigSnapshot  map[string]any
	Archive         EventCounter
}

// Server is the ops listener: health, metrics and session status.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	opts       Options
	status     StatusSource
	metrics    *Metrics
	limiter    *clientLimits
}

func New(status StatusSource, opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	srv := &Server{
		mux:     http.NewServeMux(),
		opts:    opts,
		status:  status,
		metrics: newMetrics(opts.Registry),
		limiter: newClientLimits(opts.RateLimitRPS, opts.RateLimitBurst),
	}

	srv.handle("/healthz", srv.handleHealthz)
	srv.handle("/status", srv.handleStatus)
	srv.handle("/info", srv.handleInfo)
	srv.mux.Handle("/metrics", srv.metrics.Handler())

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler exposes the routes without a listener, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handle(route string, fn http.HandlerFunc) {
	s.mux.Handle(route, s.instrument(route, fn))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.status.Status().Running {
		http.Error(w, "stopped", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	session.Status
	UptimeSeconds float64        `json:"uptime_seconds"`
	Archived      *int64         `json:"archived,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	resp := statusResponse{
		Status:        st,
		UptimeSeconds: time.Since(st.StartedAt).Round(time.Second).Seconds(),
		Config:        s.opts.ConfigSnapshot,
	}
	if s.opts.Archive != nil {
		n, err := s.opts.Archive.CountEvents(r.Context(), st.SessionID)
		if err != nil {
			log.Printf("httpapi: count archived events: %v", err)
		} else {
			resp.Archived = &n
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
