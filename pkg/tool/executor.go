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

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agenticmail/agentcore/pkg/clock"
	"github.com/agenticmail/agentcore/pkg/governance"
)

// errPolicyDenied wraps every policy-gate rejection; runPolicyGates reports
// any gate error as FailurePolicyDenied, so no gate re-states its
// FailureKind.
var errPolicyDenied = errors.New("policy denied")

const (
	defaultDeadline      = 30 * time.Second
	defaultTruncateBytes = 64 * 1024
)

// Config holds the tunables the Executor applies when a handler or call
// doesn't override them, per spec.md §4.D "Execution".
type Config struct {
	DefaultDeadline time.Duration
	TruncateBytes   int
	DLPRules        []DLPRule
}

func (c Config) withDefaults() Config {
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = defaultDeadline
	}
	if c.TruncateBytes <= 0 {
		c.TruncateBytes = defaultTruncateBytes
	}
	return c
}

// Executor is the Tool Executor of spec.md §4.D. It resolves a ToolCall
// against a Registry, runs the ordered policy-gate pipeline, dispatches to
// the rate limiter and circuit breaker, suspends for approval when
// required, executes the handler under a deadline with output truncation,
// and journals every completed call.
type Executor struct {
	registry *Registry
	cfg      Config
	clock    clock.Clock

	rateLimit *governance.RateLimiter
	breakers  *governance.CircuitBreakers
	approvals *governance.Approvals
	journal   *governance.Journal

	mu          sync.Mutex
	mutationLck map[string]*sync.Mutex // sessionID -> lock serializing mutates=true calls
}

// NewExecutor wires the policy-gate pipeline's governance collaborators
// into an Executor over registry.
func NewExecutor(registry *Registry, cfg Config, clk clock.Clock, rateLimit *governance.RateLimiter, breakers *governance.CircuitBreakers, approvals *governance.Approvals, journal *governance.Journal) *Executor {
	return &Executor{
		registry:    registry,
		cfg:         cfg.withDefaults(),
		clock:       clk,
		rateLimit:   rateLimit,
		breakers:    breakers,
		approvals:   approvals,
		journal:     journal,
		mutationLck: make(map[string]*sync.Mutex),
	}
}

// Execute resolves and runs one ToolCall, returning its ToolResult. It
// never returns a non-nil error for a tool-side failure: every policy or
// handler failure is reported inside the returned ToolResult, per spec.md
// §4.D "Failure taxonomy returned to the LLM ... never as exceptions". A
// non-nil error here means the Executor itself could not process the call
// (e.g. ctx was already cancelled).
func (e *Executor) Execute(ctx context.Context, call ToolCall, ectx ExecutionContext) (ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return ToolResult{}, err
	}

	h, ok := e.registry.Get(call.Name)
	if !ok {
		return ToolResult{CallID: call.ID, IsError: true, Failure: FailureNotFound,
			Payload: "unknown tool: " + call.Name}, nil
	}

	if err := validateSchema(h.Schema(), call.Arguments); err != nil {
		return ToolResult{CallID: call.ID, IsError: true, Failure: FailureSchemaInvalid,
			Payload: err.Error()}, nil
	}

	if res, denied := e.runPolicyGates(h, ectx, &call); denied {
		res.CallID = call.ID
		return res, nil
	}

	if e.rateLimit != nil {
		check, err := e.rateLimit.Allow(ctx, ectx.AgentID, h.Name(), 1)
		if err != nil {
			return ToolResult{}, err
		}
		if !check.Allowed {
			return ToolResult{CallID: call.ID, IsError: true, Failure: FailureRateLimited,
				Payload: "rate limited", RetryAfter: check.RetryAfter}, nil
		}
	}

	if e.breakers != nil && !e.breakers.Allow(ectx.AgentID, h.Name()) {
		return ToolResult{CallID: call.ID, IsError: true, Failure: FailureCircuitOpen,
			Payload: "circuit open for " + h.Name()}, nil
	}

	if e.approvals != nil && ectx.Profile.NeedsApproval(h) {
		req := e.approvals.Request(ectx.SessionID, h.Name(), call.ID, ectx.Profile.Approvers,
			governance.PolicyAny, time.Time{}, governance.EscalationPolicy{})
		// The caller (Reasoning Loop) observes this result and transitions
		// the session to awaiting_approval; Execute does not block here —
		// resuming after approval re-invokes Execute once the gate clears.
		return ToolResult{CallID: call.ID, IsError: true, Failure: FailureApprovalRejected,
			Payload: "awaiting approval", Metadata: map[string]any{"approvalRequestId": req.RequestID}}, nil
	}

	result, err := e.runWithDeadline(ctx, h, ectx, call)
	if e.breakers != nil {
		if err != nil {
			e.breakers.RecordFailure(ectx.AgentID, h.Name())
		} else {
			e.breakers.RecordSuccess(ectx.AgentID, h.Name())
		}
	}

	tr := e.toToolResult(call.ID, result, err)
	e.writeJournal(ctx, h, ectx, call, tr)
	return tr, nil
}

// runPolicyGates applies the permission/path/network/command/DLP gates in
// the order spec.md §4.D names them, short-circuiting on the first
// failure.
func (e *Executor) runPolicyGates(h Handler, ectx ExecutionContext, call *ToolCall) (ToolResult, bool) {
	gates := []func() error{
		func() error { return gatePermission(h, ectx) },
		func() error { return gatePathSandbox(h, ectx, call.Arguments) },
		func() error { return gateNetworkSandbox(h, ectx, call.Arguments) },
		func() error { return gateCommandSanitizer(h, ectx, call.Arguments) },
	}
	for _, gate := range gates {
		if err := gate(); err != nil {
			return ToolResult{IsError: true, Failure: FailurePolicyDenied, Payload: err.Error()}, true
		}
	}

	if redacted, violations, blocked := scanDLP(e.cfg.DLPRules, call.Arguments); blocked {
		_ = violations
		return ToolResult{IsError: true, Failure: FailureDLPBlocked,
			Payload: "argument matched a blocking DLP rule"}, true
	} else if len(violations) > 0 {
		call.Arguments = redacted
	}

	return ToolResult{}, false
}

func (e *Executor) runWithDeadline(ctx context.Context, h Handler, ectx ExecutionContext, call ToolCall) (map[string]any, error) {
	deadline := ectx.Deadline
	if deadline <= 0 {
		deadline = e.cfg.DefaultDeadline
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type callOutcome struct {
		result map[string]any
		err    error
	}
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := h.Call(callCtx, ectx, call.Arguments)
		done <- callOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

func (e *Executor) toToolResult(callID string, result map[string]any, err error) ToolResult {
	if err != nil {
		failure := FailureHandlerFailed
		if errors.Is(err, context.DeadlineExceeded) {
			failure = FailureTimeout
		}
		return ToolResult{CallID: callID, IsError: true, Failure: failure, Payload: err.Error()}
	}

	payload, truncated := serializeAndTruncate(result, e.cfg.TruncateBytes)
	return ToolResult{CallID: callID, Payload: payload, Truncated: truncated, Metadata: result}
}

func serializeAndTruncate(result map[string]any, limit int) (string, bool) {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result), false
	}
	if len(b) <= limit {
		return string(b), false
	}
	return string(b[:limit]), true
}

func (e *Executor) writeJournal(ctx context.Context, h Handler, ectx ExecutionContext, call ToolCall, tr ToolResult) {
	if e.journal == nil {
		return
	}
	_, reversible := h.(Reversible)
	entry := governance.JournalEntry{
		SessionID:  ectx.SessionID,
		AgentID:    ectx.AgentID,
		ToolName:   h.Name(),
		ActionType: call.Name,
		Reversible: reversible && !tr.IsError,
		Timestamp:  e.clock.Now(),
		Actor:      ectx.AgentID,
	}
	var inverse governance.RollbackFunc
	if rh, ok := h.(Reversible); ok && !tr.IsError {
		args, result := call.Arguments, tr.Metadata
		inverse = func(ctx context.Context, _ governance.JournalEntry) error {
			return rh.Inverse(ctx, ectx, args, result)
		}
	}
	_, _ = e.journal.Record(ctx, entry, inverse)
}

// ExecuteParallel runs every call in calls concurrently, except that calls
// whose handler declares Mutates() == true are serialized with respect to
// each other within sessionID (spec.md §4.D "Concurrency"). Results are
// returned in the same order as calls.
func (e *Executor) ExecuteParallel(ctx context.Context, sessionID string, calls []ToolCall, ectx ExecutionContext) ([]ToolResult, error) {
	results := make([]ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		i, call := i, call
		h, _ := e.registry.Get(call.Name)
		if h != nil && h.Mutates() {
			lock := e.mutationLockFor(sessionID)
			g.Go(func() error {
				lock.Lock()
				defer lock.Unlock()
				res, err := e.Execute(gctx, call, ectx)
				results[i] = res
				return err
			})
			continue
		}
		g.Go(func() error {
			res, err := e.Execute(gctx, call, ectx)
			results[i] = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Executor) mutationLockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.mutationLck[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.mutationLck[sessionID] = l
	}
	return l
}

// validateSchema checks args against schema's declared required properties.
// A full JSON-schema validator is out of scope here (invopop/jsonschema
// generates the schema for handlers built on typed argument structs, e.g.
// pkg/tool/builtin, which also get full struct-tag decoding via
// mitchellh/mapstructure) — this gate covers the common case spec.md §4.D
// step 3 names: "Validate arguments against the handler's declared JSON
// schema; on failure → isError:true with the schema error."
func validateSchema(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	required, ok := schema["required"].([]string)
	if !ok {
		if raw, ok := schema["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, key := range required {
		if _, present := args[key]; !present {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	return nil
}
