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

// Package streamevent defines the StreamEvent sum type fanned out to
// dashboard subscribers as a session advances, and the bounded per-subscriber
// fan-out that delivers it. It replaces an event-emitter-with-global-state
// design with an explicit hub keyed by session id.
package streamevent

import "time"

// Kind identifies which variant of StreamEvent a value carries.
type Kind string

const (
	KindTextDelta      Kind = "text_delta"
	KindReasoningDelta Kind = "reasoning_delta"
	KindToolCallStart  Kind = "tool_call_start"
	KindToolResult     Kind = "tool_result"
	KindRetry          Kind = "retry"
	KindStepEnd        Kind = "step_end"
)

// Event is the uniform value yielded by the LLM Gateway and Reasoning Loop
// and fanned out to subscribers. Exactly one of the payload fields matching
// Kind is populated; this is Go's nearest equivalent of a closed tagged
// union over the StreamEvent variants in the spec.
type Event struct {
	Kind      Kind
	SessionID string
	At        time.Time

	TextDelta      *TextDelta
	ReasoningDelta *ReasoningDelta
	ToolCallStart  *ToolCallStart
	ToolResult     *ToolResult
	Retry          *Retry
	StepEnd        *StepEnd
}

type TextDelta struct {
	Text string
}

type ReasoningDelta struct {
	Text string
}

type ToolCallStart struct {
	ToolName string
	CallID   string
}

type ToolResult struct {
	CallID  string
	OK      bool
	Payload string
}

type Retry struct {
	Attempt int
	DelayMs int64
	Reason  string
}

// StopReason is why a reasoning step (or session) stopped advancing.
type StopReason string

const (
	StopEndTurn              StopReason = "end_turn"
	StopMaxTokens            StopReason = "max_tokens"
	StopCancelled            StopReason = "cancelled"
	StopError                StopReason = "error"
	StopBudgetExhausted      StopReason = "budget_exhausted"
	StopApprovalQuotaExhaust StopReason = "approval_quota_exhausted"
	StopStepCeiling          StopReason = "step_ceiling"
	StopGuardrail            StopReason = "guardrail"
	StopPaused               StopReason = "paused"
)

type Usage struct {
	InputTokens     int
	OutputTokens    int
	ThinkingTokens  int
	EstimatedCostUS float64
}

type StepEnd struct {
	StopReason StopReason
	Usage      Usage
	Err        string
}

func newEvent(sessionID string, kind Kind) Event {
	return Event{Kind: kind, SessionID: sessionID, At: time.Now()}
}

// NewTextDelta constructs a text_delta event.
func NewTextDelta(sessionID, text string) Event {
	e := newEvent(sessionID, KindTextDelta)
	e.TextDelta = &TextDelta{Text: text}
	return e
}

// NewReasoningDelta constructs a reasoning_delta event.
func NewReasoningDelta(sessionID, text string) Event {
	e := newEvent(sessionID, KindReasoningDelta)
	e.ReasoningDelta = &ReasoningDelta{Text: text}
	return e
}

// NewToolCallStart constructs a tool_call_start event.
func NewToolCallStart(sessionID, toolName, callID string) Event {
	e := newEvent(sessionID, KindToolCallStart)
	e.ToolCallStart = &ToolCallStart{ToolName: toolName, CallID: callID}
	return e
}

// NewToolResult constructs a tool_result event.
func NewToolResult(sessionID, callID string, ok bool, payload string) Event {
	e := newEvent(sessionID, KindToolResult)
	e.ToolResult = &ToolResult{CallID: callID, OK: ok, Payload: payload}
	return e
}

// NewRetry constructs a retry event. Retry events are informational only:
// they are fanned out to subscribers but never written to the persistence
// port, so resuming a crashed session never replays them.
func NewRetry(sessionID string, attempt int, delay time.Duration, reason string) Event {
	e := newEvent(sessionID, KindRetry)
	e.Retry = &Retry{Attempt: attempt, DelayMs: delay.Milliseconds(), Reason: reason}
	return e
}

// NewStepEnd constructs the terminal step_end event every session path must
// emit exactly once per step (and once, finally, per session).
func NewStepEnd(sessionID string, stopReason StopReason, usage Usage, err error) Event {
	e := newEvent(sessionID, KindStepEnd)
	se := &StepEnd{StopReason: stopReason, Usage: usage}
	if err != nil {
		se.Err = err.Error()
	}
	e.StepEnd = se
	return e
}
