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

// Package session holds the Session/Message/ToolCall data model and the
// persistence port the Reasoning Loop and Session Supervisor depend on. The
// core never implements a concrete database; it only consumes the Store
// interface defined here.
package session

import "time"

// State is one of the states a Session can occupy.
type State string

const (
	StatePending          State = "pending"
	StateRunning          State = "running"
	StateAwaitingTool     State = "awaiting_tool"
	StateAwaitingApproval State = "awaiting_approval"
	StatePaused           State = "paused"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether a session in this state will never advance again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ModelSelector names the provider and model a session's steps call.
type ModelSelector struct {
	ProviderID       string
	ModelID          string
	ReasoningBudget  string // "" means off; otherwise a dialect-specific level
}

// RetryPolicy configures the LLM Gateway's retry behavior for this session.
// Zero values mean "use the Gateway's default policy".
type RetryPolicy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	OverallWindow time.Duration
	MaxAttempts   int
}

// Config is the immutable configuration snapshot a session was spawned
// with. The Reasoning Loop never mutates it; a config change takes effect
// only for a new session.
type Config struct {
	Model            ModelSelector
	Temperature      float64
	MaxOutputTokens  int
	MaxInputTokens   int
	RetryPolicy      RetryPolicy
	ToolAllowList    []string
	BudgetCapUSD     float64
	MaxSteps         int
	SystemPrompt     string
}

// Session is a long-running reasoning trace for one agent. It is
// exclusively owned by the Session Supervisor; the Reasoning Loop holds a
// mutable borrow only while a step for it is in flight.
type Session struct {
	ID    string
	AgentID string
	OrgID   string

	Config Config
	State  State

	// Reason qualifies why State is paused/failed/cancelled, e.g.
	// "budget_exhausted" or a guardrail rule name.
	Reason string

	Step              int
	InputTokensTotal  int
	OutputTokensTotal int
	CostTotalUSD      float64

	CreatedAt       time.Time
	LastHeartbeatAt time.Time
	TerminalAt      time.Time
}

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates the Block tagged variant. Go has no native sum
// type, so Block is modeled as an interface implemented by exactly the four
// kinds below and consumers switch exhaustively on Kind().
type BlockKind string

const (
	BlockText           BlockKind = "text"
	BlockReasoning      BlockKind = "reasoning"
	BlockToolInvocation BlockKind = "tool_invocation"
	BlockToolResult     BlockKind = "tool_result"
)

// Block is one element of a Message's content.
type Block interface {
	Kind() BlockKind
}

type TextBlock struct{ Text string }

func (TextBlock) Kind() BlockKind { return BlockText }

type ReasoningBlock struct{ Text string }

func (ReasoningBlock) Kind() BlockKind { return BlockReasoning }

// ToolInvocationBlock is a pending tool call emitted by the LLM. Every
// ToolInvocationBlock with ID X must eventually be matched by exactly one
// ToolResultBlock with RefID == X, or the session must be in
// awaiting_tool/awaiting_approval.
type ToolInvocationBlock struct {
	ID        string
	Name      string
	Arguments map[string]any
}

func (ToolInvocationBlock) Kind() BlockKind { return BlockToolInvocation }

type ToolResultBlock struct {
	RefID     string
	Payload   string
	IsError   bool
	Truncated bool
}

func (ToolResultBlock) Kind() BlockKind { return BlockToolResult }

// Message is one ordered, append-only element of a session's conversation.
type Message struct {
	Role   Role
	Blocks []Block
}

// Text concatenates every TextBlock in the message, in order.
func (m Message) Text() string {
	var s string
	for _, b := range m.Blocks {
		if tb, ok := b.(TextBlock); ok {
			s += tb.Text
		}
	}
	return s
}

// ToolInvocations returns every ToolInvocationBlock in the message.
func (m Message) ToolInvocations() []ToolInvocationBlock {
	var out []ToolInvocationBlock
	for _, b := range m.Blocks {
		if ib, ok := b.(ToolInvocationBlock); ok {
			out = append(out, ib)
		}
	}
	return out
}

// UnresolvedToolInvocations returns the invocations that have no matching
// ToolResultBlock (by RefID) within resultBlocks.
func UnresolvedToolInvocations(invocations []ToolInvocationBlock, resultBlocks []ToolResultBlock) []ToolInvocationBlock {
	resolved := make(map[string]bool, len(resultBlocks))
	for _, r := range resultBlocks {
		resolved[r.RefID] = true
	}
	var out []ToolInvocationBlock
	for _, inv := range invocations {
		if !resolved[inv.ID] {
			out = append(out, inv)
		}
	}
	return out
}

// MessageDelta is one atomic append to a session's message list, the unit
// the persistence port writes. Replaying every MessageDelta for a session,
// in Step order, reconstructs its Message list byte-for-byte.
type MessageDelta struct {
	SessionID string
	Step      int
	Message   Message
}
