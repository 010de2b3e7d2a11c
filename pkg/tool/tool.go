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

// Package tool is the Tool Executor of spec.md §4.D: it resolves a ToolCall
// to a Handler, runs an ordered policy-gate pipeline (permission, path
// sandbox, network sandbox, command sanitizer, DLP, rate limit, circuit
// breaker, approval gate), executes the handler under a deadline with
// output truncation, and journals every completed call.
//
// Handler is the base interface every built-in tool, skill adapter (MCP,
// out-of-process plugin), and function-wrapped tool implements. It keeps
// the teacher's CallableTool shape (Name/Description/Schema/Call) and adds
// the declarations the policy gates need: RiskLevel, SideEffects, and
// whether concurrent calls to it must serialize within a session.
package tool

import (
	"context"
	"time"
)

// RiskLevel orders tools from safest to most dangerous for the permission
// gate and the approval-threshold check.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// SideEffect names one category of real-world effect a tool may have.
// Permission profiles and approval policy both key off this set.
type SideEffect string

const (
	SideEffectFilesystemWrite SideEffect = "filesystem_write"
	SideEffectFilesystemRead  SideEffect = "filesystem_read"
	SideEffectNetworkEgress   SideEffect = "network_egress"
	SideEffectShellExec       SideEffect = "shell_exec"
	SideEffectExternalAPI     SideEffect = "external_api"
	SideEffectDataDeletion    SideEffect = "data_deletion"
)

// Handler is the base interface a tool implements to be invoked by the
// Executor. This matches the teacher's CallableTool contract plus the
// governance declarations spec.md §4.D's policy gates consume.
type Handler interface {
	// Name returns the unique tool name the LLM's ToolCall.Name matches.
	Name() string

	// Description is shown to the LLM to help it decide when to call this.
	Description() string

	// Schema returns the JSON schema for the tool's arguments, or nil if
	// it takes none.
	Schema() map[string]any

	// RiskLevel classifies how dangerous this tool is, for the permission
	// and approval-threshold gates.
	RiskLevel() RiskLevel

	// SideEffects lists the side-effect categories this tool can produce.
	SideEffects() []SideEffect

	// Mutates reports whether concurrent invocations of this tool must be
	// serialized with respect to each other within one session (spec.md
	// §4.D "Concurrency").
	Mutates() bool

	// Call executes the tool synchronously and returns its result payload
	// as a map, or an error. The Executor converts a returned error into a
	// ToolResult{IsError:true}; handlers never need to build ToolResult
	// themselves.
	Call(ctx context.Context, ectx ExecutionContext, args map[string]any) (map[string]any, error)
}

// Reversible is implemented by handlers whose action can be undone. The
// Journal invokes Inverse to roll back a completed call.
type Reversible interface {
	// Inverse runs the compensating action for a previously completed call,
	// given the arguments and result payload recorded at call time.
	Inverse(ctx context.Context, ectx ExecutionContext, args map[string]any, result map[string]any) error
}

// ToolCall is a pending invocation emitted by the LLM, per spec.md §3.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// FailureKind is the closed taxonomy of reasons a ToolResult can be an
// error, per spec.md §4.D. These are returned to the LLM as tool_result
// payloads, never raised as exceptions.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailurePolicyDenied     FailureKind = "policy_denied"
	FailureSchemaInvalid    FailureKind = "schema_invalid"
	FailureNotFound         FailureKind = "not_found"
	FailureTimeout          FailureKind = "timeout"
	FailureRateLimited      FailureKind = "rate_limited"
	FailureCircuitOpen      FailureKind = "circuit_open"
	FailureDLPBlocked       FailureKind = "dlp_blocked"
	FailureApprovalRejected FailureKind = "approval_rejected"
	FailureHandlerFailed    FailureKind = "handler_failed"
)

// ToolResult is what the Executor returns for one ToolCall: a payload, an
// error flag, and enough metadata to build the conversation's
// ToolResultBlock and the retry-after hint the rate-limit gate produces.
type ToolResult struct {
	CallID     string
	Payload    string
	IsError    bool
	Failure    FailureKind
	Truncated  bool
	RetryAfter time.Duration
	Metadata   map[string]any
}
