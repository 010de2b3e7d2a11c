// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package governance

import (
	"strings"
	"sync"
	"sync/atomic"
)

// GuardrailAction is what a triggered rule does to the enclosing session.
type GuardrailAction string

const (
	ActionLog          GuardrailAction = "log"
	ActionAlert        GuardrailAction = "alert"
	ActionPauseSession GuardrailAction = "pause_session"
	ActionStopAgent    GuardrailAction = "stop_agent"
)

// GuardrailRule is a declarative rule evaluated at step boundaries.
// Predicate reports whether the rule fires for a given StepObservation.
type GuardrailRule struct {
	Name      string
	Action    GuardrailAction
	Predicate func(StepObservation) bool
}

// StepObservation is what a step boundary exposes to guardrail rules.
type StepObservation struct {
	AgentID         string
	SessionID       string
	AssistantText   string
	StepCostUSD     float64
	CallsThisMinute int
	OffDutyHours    bool
}

// ContainsPattern builds a predicate that fires when substr appears in the
// assistant's text for the step.
func ContainsPattern(substr string) func(StepObservation) bool {
	return func(o StepObservation) bool { return strings.Contains(o.AssistantText, substr) }
}

// CostSpike builds a predicate that fires when a single step's cost
// exceeds thresholdUSD.
func CostSpike(thresholdUSD float64) func(StepObservation) bool {
	return func(o StepObservation) bool { return o.StepCostUSD > thresholdUSD }
}

// CallFrequencyAnomaly builds a predicate that fires when more than max
// calls have been observed for the agent in the current minute.
func CallFrequencyAnomaly(max int) func(StepObservation) bool {
	return func(o StepObservation) bool { return o.CallsThisMinute > max }
}

// Guardrails evaluates its rule set at every step boundary. Rules can be
// swapped atomically (e.g. on a hot-reloaded rule file) without disrupting
// an in-flight evaluation.
type Guardrails struct {
	rules atomic.Pointer[[]GuardrailRule]
	mu    sync.Mutex
}

func NewGuardrails(rules []GuardrailRule) *Guardrails {
	g := &Guardrails{}
	g.SetRules(rules)
	return g
}

// SetRules atomically replaces the active rule set, e.g. after a hot
// reload of the guardrail rule file.
func (g *Guardrails) SetRules(rules []GuardrailRule) {
	cp := append([]GuardrailRule(nil), rules...)
	g.rules.Store(&cp)
}

// Trigger describes one rule that fired during an evaluation.
type Trigger struct {
	Rule   string
	Action GuardrailAction
}

// Evaluate runs every active rule against obs and returns every triggered
// rule's name and action, in rule order. An empty result means no rule
// fired.
func (g *Guardrails) Evaluate(obs StepObservation) []Trigger {
	rules := g.rules.Load()
	if rules == nil {
		return nil
	}

	var triggers []Trigger
	for _, r := range *rules {
		if r.Predicate != nil && r.Predicate(obs) {
			triggers = append(triggers, Trigger{Rule: r.Name, Action: r.Action})
		}
	}
	return triggers
}

// MostSevere returns the most disruptive action among triggers, in the
// order stop_agent > pause_session > alert > log, or "" if triggers is
// empty.
func MostSevere(triggers []Trigger) GuardrailAction {
	rank := map[GuardrailAction]int{ActionLog: 0, ActionAlert: 1, ActionPauseSession: 2, ActionStopAgent: 3}
	best := GuardrailAction("")
	bestRank := -1
	for _, t := range triggers {
		if rank[t.Action] > bestRank {
			bestRank = rank[t.Action]
			best = t.Action
		}
	}
	return best
}
