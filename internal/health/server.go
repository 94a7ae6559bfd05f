// Package health exposes the worker's liveness, readiness and metrics
// endpoints on a dedicated port, separate from any data-plane traffic.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/breaker"
)

// Engine is the slice of the consumer engine readiness needs.
type Engine interface {
	Subscribed() bool
	LastPoll() time.Time
}

// Options wires the signals the endpoints report on. Nil funcs disable the
// corresponding check.
type Options struct {
	Engine Engine

	// AnalyzerBreaker reports the analyzer breaker state; open fails /ready.
	AnalyzerBreaker func() breaker.State

	// EmbedderLastSuccess is set only when an active handler depends on
	// embeddings. A success older than ReadinessWindow fails /ready; zero
	// (never called) passes, since a quiet embedder is not a broken one.
	EmbedderLastSuccess func() time.Time
	ReadinessWindow     time.Duration

	// LivenessWindow bounds how stale the poll-loop heartbeat may be before
	// /health reports the process wedged.
	LivenessWindow time.Duration

	Now func() time.Time
}

// Server serves /health, /ready and /metrics.
type Server struct {
	opts Options
	http *http.Server
}

const defaultLivenessWindow = 90 * time.Second

func New(addr string, opts Options) *Server {
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = defaultLivenessWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the chi router; exposed separately so tests can drive it
// without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// ListenAndServe blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	c := s.heartbeatCheck()
	writeChecks(w, []check{c})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	checks := make([]check, 0, 3)

	if s.opts.Engine != nil {
		c := check{Name: "consumer", OK: s.opts.Engine.Subscribed()}
		if !c.OK {
			c.Details = "not subscribed to any partition yet"
		}
		checks = append(checks, c)
	}

	if s.opts.AnalyzerBreaker != nil {
		state := s.opts.AnalyzerBreaker()
		c := check{Name: "analyzer_breaker", OK: state != breaker.StateOpen}
		if !c.OK {
			c.Details = "circuit open"
		} else if state == breaker.StateHalfOpen {
			c.Details = "half_open"
		}
		checks = append(checks, c)
	}

	if s.opts.EmbedderLastSuccess != nil && s.opts.ReadinessWindow > 0 {
		last := s.opts.EmbedderLastSuccess()
		c := check{Name: "embedder", OK: true}
		if !last.IsZero() {
			age := s.opts.Now().Sub(last)
			if age > s.opts.ReadinessWindow {
				c.OK = false
				c.Details = fmt.Sprintf("last success %s ago", age.Truncate(time.Second))
			}
		}
		checks = append(checks, c)
	}

	writeChecks(w, checks)
}

func (s *Server) heartbeatCheck() check {
	c := check{Name: "poll_loop", OK: true}
	if s.opts.Engine == nil {
		return c
	}
	last := s.opts.Engine.LastPoll()
	if last.IsZero() {
		// Startup: the process is alive while the first poll is pending.
		return c
	}
	if age := s.opts.Now().Sub(last); age > s.opts.LivenessWindow {
		c.OK = false
		c.Details = fmt.Sprintf("last poll %s ago", age.Truncate(time.Second))
	}
	return c
}

func writeChecks(w http.ResponseWriter, checks []check) {
	status := http.StatusOK
	for _, c := range checks {
		if !c.OK {
			status = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"checks": checks})
}
