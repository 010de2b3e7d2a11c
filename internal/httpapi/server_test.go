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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenticmail/agentcore/pkg/clock"
	"github.com/agenticmail/agentcore/pkg/credential"
	"github.com/agenticmail/agentcore/pkg/llmgateway"
	"github.com/agenticmail/agentcore/pkg/reasoning"
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
	"github.com/agenticmail/agentcore/pkg/supervisor"
	"github.com/agenticmail/agentcore/pkg/tool"
)

type staticResolver struct{ value string }

func (s staticResolver) Resolve(context.Context, string) (string, error) { return s.value, nil }

func newTestServer(t *testing.T) (*Server, session.Store) {
	t.Helper()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":1}}\n" +
			"data: [DONE]\n"))
	}))
	t.Cleanup(llmSrv.Close)

	gw := llmgateway.New(staticResolver{value: "k"})
	_ = gw.Providers().Remove("openai")
	require.NoError(t, gw.Providers().Register("openai", llmgateway.ProviderDefinition{
		ID:              "openai",
		APIType:         llmgateway.APITypeOpenAICompatible,
		BaseURL:         llmSrv.URL,
		AuthHeaderShape: llmgateway.AuthBearer,
		CredentialRef:   "openai",
	}))

	store := session.NewMemoryStore()
	hub := streamevent.NewHub(slog.Default())
	clk := clock.NewFake(time.Now())
	loop := reasoning.NewLoop(store, gw, tool.NewRegistry(), nil, nil, nil, nil, nil, hub, nil, clk, reasoning.Config{}, nil, nil)
	sup := supervisor.New(store, loop, hub, clk, slog.Default(), supervisor.Config{})

	srv := New(sup, store, hub, Config{}, slog.Default(), nil)
	return srv, store
}

func TestHandleHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSpawnAndStatus(t *testing.T) {
	srv, store := newTestServer(t)

	body, err := json.Marshal(spawnRequest{
		AgentID:      "agent-1",
		OrgID:        "org-1",
		InitialInput: "hello",
		Model:        modelSelector{ProviderID: "openai", ModelID: "gpt-4o"},
		MaxSteps:     1,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var spawned spawnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spawned))
	require.NotEmpty(t, spawned.SessionID)

	_, err = store.LoadSession(context.Background(), spawned.SessionID)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+spawned.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, spawned.SessionID, status.SessionID)
	require.Equal(t, "agent-1", status.AgentID)
}

func TestHandleSpawnRequiresAgentID(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(spawnRequest{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancelUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/does-not-exist/cancel", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Auth = &credential.JWTSource{Key: []byte("test-key"), Issuer: "agentcore-test"}

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/anything", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := srv.cfg.Auth.IssueForAgent(context.Background(), "agent-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	srv.router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code, "a valid bearer token must pass auth even though the session itself is unknown")
}
