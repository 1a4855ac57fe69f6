package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the aggregate health of a component.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// ComponentHealth is the health of one pipeline component.
type ComponentHealth struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report maps component names to their health.
type Report map[string]ComponentHealth

// Overall returns the worst status in the report.
func (r Report) Overall() Status {
	status := StatusHealthy
	for _, component := range r {
		if component.Status == StatusCritical {
			return StatusCritical
		}
		if component.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}

// Reporter produces a health report on demand.
type Reporter interface {
	CheckHealth(ctx context.Context) Report
}

// ReporterFunc adapts a function into a Reporter.
type ReporterFunc func(ctx context.Context) Report

// CheckHealth implements Reporter.
func (f ReporterFunc) CheckHealth(ctx context.Context) Report {
	return f(ctx)
}

// Server provides HTTP endpoints for health monitoring and Prometheus scraping.
type Server struct {
	reporter Reporter
	server   *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(reporter Reporter, addr string) *Server {
	s := &Server{reporter: reporter}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.reporter.CheckHealth(r.Context()).Overall()

	w.Header().Set("Content-Type", "application/json")
	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.reporter.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
