// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi is the external HTTP surface of spec.md §6: a minimal
// control API over the Session Supervisor's spawn/resume/pause/cancel/status
// operations, plus a line-delimited-JSON/SSE event-sink endpoint a dashboard
// consumes to follow a session live. It is the HTTP transport for those
// operations, not a dashboard UI — the teacher's own UI rendering is out of
// scope here just as it is in SPEC_FULL.md §11.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agenticmail/agentcore/pkg/credential"
	"github.com/agenticmail/agentcore/pkg/observability"
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
	"github.com/agenticmail/agentcore/pkg/supervisor"
)

// Config tunes the HTTP server. Zero values are replaced by defaults in
// New.
type Config struct {
	Addr string // host:port to listen on. Defaults to ":8080".

	// ReadHeaderTimeout bounds how long the server waits for request
	// headers before giving up, per net/http's slowloris guidance.
	ReadHeaderTimeout time.Duration

	// Auth, when non-nil, requires every request (other than /healthz) to
	// carry a bearer token verifiable by Auth.VerifyAgent. Nil disables
	// authentication, for local/dev use.
	Auth *credential.JWTSource
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	return c
}

// Server is the control-plane + event-sink HTTP server in front of a
// Supervisor. It owns no session state of its own; every handler is a thin
// translation from an HTTP request to a Supervisor call.
type Server struct {
	cfg     Config
	sup     *supervisor.Supervisor
	store   session.Store
	hub     *streamevent.Hub
	log     *slog.Logger
	metrics *observability.Metrics

	httpServer *http.Server
}

// New builds a Server. log defaults to slog.Default() if nil; metrics may
// be nil, in which case HTTP request metrics are skipped (observability.Metrics
// is nil-receiver-safe, so this is never special-cased below).
func New(sup *supervisor.Supervisor, store session.Store, hub *streamevent.Hub, cfg Config, log *slog.Logger, metrics *observability.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg.withDefaults(),
		sup:     sup,
		store:   store,
		hub:     hub,
		log:     log,
		metrics: metrics,
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(s.recordMetrics)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if s.cfg.Auth != nil {
			r.Use(s.requireBearerAuth)
		}
		r.Post("/sessions", s.handleSpawn)
		r.Get("/sessions/{id}", s.handleStatus)
		r.Post("/sessions/{id}/resume", s.handleResume)
		r.Post("/sessions/{id}/pause", s.handlePause)
		r.Post("/sessions/{id}/cancel", s.handleCancel)
		r.Get("/sessions/{id}/events", s.handleEventStream)
	})

	return r
}

// ListenAndServe blocks serving HTTP until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("httpapi: listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
