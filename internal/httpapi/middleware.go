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

package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("httpapi: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		reqSize := r.ContentLength
		next.ServeHTTP(ww, r)

		// chi populates the matched route's pattern (e.g. "/sessions/{id}")
		// into the route context as routing descends; reading it after
		// next.ServeHTTP returns a low-cardinality label instead of one
		// value per distinct session id.
		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.metrics.RecordHTTPRequest(r.Method, pattern, ww.Status(), time.Since(start), reqSize, int64(ww.BytesWritten()))
	})
}

// requireBearerAuth enforces a valid "Authorization: Bearer <token>" header
// verifiable by s.cfg.Auth.VerifyAgent, per spec.md §6's credential
// resolution for external callers. /healthz is exempted by never being
// routed through this middleware's group (see router()).
func (s *Server) requireBearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, errMissingBearerToken)
			return
		}
		token := strings.TrimPrefix(header, prefix)
		if _, err := s.cfg.Auth.VerifyAgent(r.Context(), token); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errMissingBearerToken = errors.New("httpapi: missing or malformed Authorization header")
