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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agenticmail/agentcore/pkg/session"
)

// errorResponse is the uniform JSON body for any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// spawnRequest is the POST /sessions body.
type spawnRequest struct {
	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`

	InitialInput string `json:"initial_input"`

	Model           modelSelector `json:"model"`
	Temperature     float64       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
	MaxInputTokens  int           `json:"max_input_tokens"`
	ToolAllowList   []string      `json:"tool_allow_list"`
	BudgetCapUSD    float64       `json:"budget_cap_usd"`
	MaxSteps        int           `json:"max_steps"`
	SystemPrompt    string        `json:"system_prompt"`
}

type modelSelector struct {
	ProviderID      string `json:"provider_id"`
	ModelID         string `json:"model_id"`
	ReasoningBudget string `json:"reasoning_budget"`
}

type spawnResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, errors.New("agent_id is required"))
		return
	}

	initialInput := session.Message{
		Role:   session.RoleUser,
		Blocks: []session.Block{session.TextBlock{Text: req.InitialInput}},
	}
	cfg := session.Config{
		Model: session.ModelSelector{
			ProviderID:      req.Model.ProviderID,
			ModelID:         req.Model.ModelID,
			ReasoningBudget: req.Model.ReasoningBudget,
		},
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		MaxInputTokens:  req.MaxInputTokens,
		ToolAllowList:   req.ToolAllowList,
		BudgetCapUSD:    req.BudgetCapUSD,
		MaxSteps:        req.MaxSteps,
		SystemPrompt:    req.SystemPrompt,
	}

	id, err := s.sup.Spawn(r.Context(), req.AgentID, req.OrgID, initialInput, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, spawnResponse{SessionID: id})
}

// statusResponse mirrors the fields of a session a dashboard needs to show
// at-a-glance status without subscribing to the event stream.
type statusResponse struct {
	SessionID         string  `json:"session_id"`
	AgentID           string  `json:"agent_id"`
	OrgID             string  `json:"org_id"`
	State             string  `json:"state"`
	Reason            string  `json:"reason,omitempty"`
	Step              int     `json:"step"`
	InputTokensTotal  int     `json:"input_tokens_total"`
	OutputTokensTotal int     `json:"output_tokens_total"`
	CostTotalUSD      float64 `json:"cost_total_usd"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.LoadSession(r.Context(), id)
	if err != nil {
		s.writeSessionLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:         sess.ID,
		AgentID:           sess.AgentID,
		OrgID:             sess.OrgID,
		State:             string(sess.State),
		Reason:            sess.Reason,
		Step:              sess.Step,
		InputTokensTotal:  sess.InputTokensTotal,
		OutputTokensTotal: sess.OutputTokensTotal,
		CostTotalUSD:      sess.CostTotalUSD,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Resume(r.Context(), id); err != nil {
		s.writeSessionLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Pause(id); err != nil {
		s.writeSessionLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled via control api"
	}
	if err := s.sup.Cancel(r.Context(), id, req.Reason); err != nil {
		s.writeSessionLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeSessionLookupError maps a Supervisor/Store error to an HTTP status:
// an unknown session id is a 404, anything else is a 500.
func (s *Server) writeSessionLookupError(w http.ResponseWriter, err error) {
	var notFound *session.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
