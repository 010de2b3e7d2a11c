// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package governance implements the Governance Layer: per-agent budgets,
// token-bucket rate limits, circuit breakers, guardrail rules, an
// append-only journal with reversal, and approval gates.
package governance

import (
	"context"
	"fmt"
	"sync"
)

// BudgetState is per-agent cumulative usage against a hard cap, persisted
// by BudgetStore and mutated only under the per-agent lock Budgets holds.
type BudgetState struct {
	AgentID      string
	CapUSD       float64
	SpentUSD     float64
	LastNotified float64 // highest threshold (0-1) already notified
}

// Remaining reports the unspent portion of the cap; never negative.
func (b BudgetState) Remaining() float64 {
	r := b.CapUSD - b.SpentUSD
	if r < 0 {
		return 0
	}
	return r
}

// BudgetStore is the budget slice of the persistence port (spec §6:
// getBudget/updateBudget).
type BudgetStore interface {
	GetBudget(ctx context.Context, agentID string) (BudgetState, error)
	UpdateBudget(ctx context.Context, agentID string, deltaUSD float64) (BudgetState, error)
}

// UnitCost prices a step's worst-case cost estimate.
type UnitCost struct {
	PerInputToken  float64
	PerOutputToken float64
}

// ThresholdNotifier is called when an agent's spend crosses 50/80/100% of
// its cap. Wiring a Prometheus gauge or a webhook here is the caller's
// choice; Budgets only guarantees it is called at most once per threshold
// per crossing.
type ThresholdNotifier func(agentID string, threshold float64, state BudgetState)

var defaultThresholds = []float64{0.5, 0.8, 1.0}

// Budgets enforces the budget preflight check and records spend. It is
// safe for concurrent use across sessions belonging to different agents;
// operations for the same agent serialize on that agent's lock.
type Budgets struct {
	store  BudgetStore
	notify ThresholdNotifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBudgets creates a Budgets governor. notify may be nil.
func NewBudgets(store BudgetStore, notify ThresholdNotifier) *Budgets {
	return &Budgets{store: store, notify: notify, locks: make(map[string]*sync.Mutex)}
}

func (b *Budgets) agentLock(agentID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[agentID] = l
	}
	return l
}

// PreflightResult is the outcome of a budget preflight check.
type PreflightResult struct {
	Allowed        bool
	WorstCaseUSD   float64
	State          BudgetState
}

// Preflight checks cost_so_far + worst_case_step_cost <= cap before a step
// is allowed to call the LLM Gateway, per spec §4.E. maxOutputTokens and
// estimatedInputTokens describe the step about to run.
func (b *Budgets) Preflight(ctx context.Context, agentID string, maxOutputTokens, estimatedInputTokens int, unit UnitCost) (PreflightResult, error) {
	lock := b.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	state, err := b.store.GetBudget(ctx, agentID)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("governance: load budget for %s: %w", agentID, err)
	}

	worstCase := float64(maxOutputTokens)*unit.PerOutputToken + float64(estimatedInputTokens)*unit.PerInputToken

	allowed := state.SpentUSD+worstCase <= state.CapUSD
	return PreflightResult{Allowed: allowed, WorstCaseUSD: worstCase, State: state}, nil
}

// Record adds actualCostUSD to the agent's spend and fires threshold
// notifications crossed by this update. Budget monotonicity (spec §8,
// invariant 5) follows because Record only ever adds non-negative deltas.
func (b *Budgets) Record(ctx context.Context, agentID string, actualCostUSD float64) (BudgetState, error) {
	if actualCostUSD < 0 {
		return BudgetState{}, fmt.Errorf("governance: negative cost delta")
	}

	lock := b.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	state, err := b.store.UpdateBudget(ctx, agentID, actualCostUSD)
	if err != nil {
		return BudgetState{}, fmt.Errorf("governance: update budget for %s: %w", agentID, err)
	}

	if state.CapUSD > 0 {
		ratio := state.SpentUSD / state.CapUSD
		prevRatio := (state.SpentUSD - actualCostUSD) / state.CapUSD
		for _, t := range defaultThresholds {
			if ratio >= t && prevRatio < t && state.LastNotified < t {
				state.LastNotified = t
				if b.notify != nil {
					b.notify(agentID, t, state)
				}
			}
		}
	}
	return state, nil
}

// MemoryBudgetStore is the in-memory reference BudgetStore.
type MemoryBudgetStore struct {
	mu     sync.Mutex
	states map[string]BudgetState
}

// NewMemoryBudgetStore creates an empty store; caps are set the first time
// an agent is seen via SetCap, defaulting to 0 (i.e. no spend allowed)
// until configured.
func NewMemoryBudgetStore() *MemoryBudgetStore {
	return &MemoryBudgetStore{states: make(map[string]BudgetState)}
}

// SetCap sets (or resets) an agent's cap, preserving its spend-to-date.
func (m *MemoryBudgetStore) SetCap(agentID string, capUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[agentID]
	s.AgentID = agentID
	s.CapUSD = capUSD
	m.states[agentID] = s
}

func (m *MemoryBudgetStore) GetBudget(_ context.Context, agentID string) (BudgetState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[agentID]
	if !ok {
		s = BudgetState{AgentID: agentID}
		m.states[agentID] = s
	}
	return s, nil
}

func (m *MemoryBudgetStore) UpdateBudget(_ context.Context, agentID string, deltaUSD float64) (BudgetState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[agentID]
	s.AgentID = agentID
	s.SpentUSD += deltaUSD
	m.states[agentID] = s
	return s, nil
}

var _ BudgetStore = (*MemoryBudgetStore)(nil)
