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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// SpawnCmd spawns a new session via the control API.
type SpawnCmd struct {
	Agent           string  `required:"" help:"Agent id to spawn a session for."`
	Org             string  `help:"Org id."`
	Input           string  `required:"" help:"Initial user input."`
	Provider        string  `help:"LLM provider id." default:"anthropic"`
	Model           string  `help:"Model id." default:"claude-sonnet-4-20250514"`
	Temperature     float64 `default:"0.7"`
	MaxOutputTokens int     `name:"max-output-tokens" default:"4096"`
	BudgetCapUSD    float64 `name:"budget-cap-usd" help:"Session cost ceiling; 0 means unbounded."`
	MaxSteps        int     `name:"max-steps" default:"50"`
}

func (c *SpawnCmd) Run(cli *CLI) error {
	req := map[string]any{
		"agent_id":          c.Agent,
		"org_id":            c.Org,
		"initial_input":     c.Input,
		"temperature":       c.Temperature,
		"max_output_tokens": c.MaxOutputTokens,
		"budget_cap_usd":    c.BudgetCapUSD,
		"max_steps":         c.MaxSteps,
		"model": map[string]any{
			"provider_id": c.Provider,
			"model_id":    c.Model,
		},
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := newControlClient(cli).do(context.Background(), "POST", "/sessions", req, &resp); err != nil {
		return err
	}
	fmt.Println(resp.SessionID)
	return nil
}

// StatusCmd prints a session's current status as JSON.
type StatusCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	var resp map[string]any
	if err := newControlClient(cli).do(context.Background(), "GET", "/sessions/"+c.SessionID, nil, &resp); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// ResumeCmd resumes a paused or awaiting-tool session.
type ResumeCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	return newControlClient(cli).do(context.Background(), "POST", "/sessions/"+c.SessionID+"/resume", nil, nil)
}

// PauseCmd pauses a running session.
type PauseCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *PauseCmd) Run(cli *CLI) error {
	return newControlClient(cli).do(context.Background(), "POST", "/sessions/"+c.SessionID+"/pause", nil, nil)
}

// CancelCmd cancels a session.
type CancelCmd struct {
	SessionID string `arg:"" help:"Session id."`
	Reason    string `help:"Cancellation reason." default:"cancelled via cli"`
}

func (c *CancelCmd) Run(cli *CLI) error {
	req := map[string]any{"reason": c.Reason}
	return newControlClient(cli).do(context.Background(), "POST", "/sessions/"+c.SessionID+"/cancel", req, nil)
}
