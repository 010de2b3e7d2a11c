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

// Package reasoning additionally implements the Reasoning Loop of spec.md
// §4.B in loop.go: one session's step-by-step advance through preflight,
// LLM call, bookkeeping, and tool dispatch. It is grounded on
// pkg/agent/llmagent/flow.go's outer/inner loop split (Run/runOneStep) but
// replaced adk-go's session/event model with this module's
// pkg/session.Store + pkg/streamevent.Hub, and adk-go's CallableTool
// dispatch with pkg/tool.Executor.
package reasoning

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/agenticmail/agentcore/pkg/clock"
	"github.com/agenticmail/agentcore/pkg/credential"
	"github.com/agenticmail/agentcore/pkg/governance"
	"github.com/agenticmail/agentcore/pkg/llmgateway"
	"github.com/agenticmail/agentcore/pkg/observability"
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
	"github.com/agenticmail/agentcore/pkg/tool"
)

// llmPseudoTool is the rate-limit/circuit-breaker key the Loop uses for the
// LLM call itself. Both governors are declared per (agent, tool) in
// spec.md §4.E; the LLM call has no tool name of its own, so it is tracked
// under this reserved key.
const llmPseudoTool = "__llm__"

// PolicyResolver produces the permission profile and sandbox descriptor
// that govern an agent's tool calls. spec.md leaves where these come from
// external to the core (an org's admin config); the Loop only needs a way
// to fetch them per (agentID, orgID) at dispatch time.
type PolicyResolver func(agentID, orgID string) (tool.PermissionProfile, tool.SandboxDescriptor)

// Config holds the Loop's tunables that aren't carried on session.Config.
type Config struct {
	UnitCost governance.UnitCost
	// ResolvePolicy is consulted before every tool dispatch. A nil value
	// defaults to the zero PermissionProfile/SandboxDescriptor: the
	// permission gate only allows RiskLow tools (MaxRiskLevel's zero
	// value), so callers that need real tool access must supply a
	// resolver reflecting the agent's actual org policy.
	ResolvePolicy PolicyResolver
}

func (c Config) withDefaults() Config {
	if c.ResolvePolicy == nil {
		c.ResolvePolicy = func(string, string) (tool.PermissionProfile, tool.SandboxDescriptor) {
			return tool.PermissionProfile{}, tool.SandboxDescriptor{}
		}
	}
	return c
}

// Loop is the Reasoning Loop of spec.md §4.B. One Loop instance serves
// every session; per-session serialization (§4.B step 1, "at most one
// Reasoning Loop advances a given session at a time") is enforced by a
// mutex keyed on session id, not by instance-per-session.
type Loop struct {
	store       session.Store
	gateway     *llmgateway.Gateway
	tools       *tool.Registry
	executor    *tool.Executor
	budgets     *governance.Budgets
	rateLimit   *governance.RateLimiter
	breakers    *governance.CircuitBreakers
	guardrails  *governance.Guardrails
	hub         *streamevent.Hub
	credentials credential.Resolver
	clk         clock.Clock
	cfg         Config

	tracer  *observability.Tracer
	metrics *observability.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLoop wires a Reasoning Loop over its collaborators. budgets, rateLimit,
// breakers, and guardrails may be nil to skip that preflight check (e.g. in
// focused unit tests); tracer and metrics may be nil to run unobserved —
// both types are nil-receiver-safe, so every call site below works whether
// or not observability is wired. Every other argument is required.
func NewLoop(store session.Store, gateway *llmgateway.Gateway, tools *tool.Registry, executor *tool.Executor,
	budgets *governance.Budgets, rateLimit *governance.RateLimiter, breakers *governance.CircuitBreakers,
	guardrails *governance.Guardrails, hub *streamevent.Hub, credentials credential.Resolver, clk clock.Clock, cfg Config,
	tracer *observability.Tracer, metrics *observability.Metrics) *Loop {
	return &Loop{
		store:       store,
		gateway:     gateway,
		tools:       tools,
		executor:    executor,
		budgets:     budgets,
		rateLimit:   rateLimit,
		breakers:    breakers,
		guardrails:  guardrails,
		hub:         hub,
		credentials: credentials,
		clk:         clk,
		cfg:         cfg.withDefaults(),
		tracer:      tracer,
		metrics:     metrics,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (l *Loop) sessionLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[id] = lk
	}
	return lk
}

// Run advances sessionID step by step until it reaches a terminal state or
// suspends (awaiting_approval/paused), per spec.md §4.B step 8 ("Loop.
// Return to step 1 for the next step."). A step that leaves the session
// awaiting_tool, with its tool results appended, is followed by the next
// step.
func (l *Loop) Run(ctx context.Context, sessionID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := l.Step(ctx, sessionID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step advances sessionID by exactly one step and reports whether the
// session is done advancing for now (terminal, suspended, or paused) —
// this is the per-step algorithm of spec.md §4.B, steps 1-7.
func (l *Loop) Step(ctx context.Context, sessionID string) (done bool, err error) {
	lock := l.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// 1. Precondition.
	sess, err := l.store.LoadSession(ctx, sessionID)
	if err != nil {
		return true, err
	}
	switch sess.State {
	case session.StatePending, session.StateRunning, session.StateAwaitingTool:
	default:
		return true, nil
	}
	sess.State = session.StateRunning

	ctx, stepSpan := l.tracer.StartSessionStep(ctx, sess.ID, sess.AgentID, sess.OrgID, sess.Step)
	defer stepSpan.End()

	// 2. Preflight checks.
	if stopReason, reason := l.preflight(ctx, sess); reason != "" {
		sess.State = session.StatePaused
		sess.Reason = reason
		l.save(ctx, sess)
		l.tracer.AddStopReason(stepSpan, string(stopReason))
		l.hub.Publish(streamevent.NewStepEnd(sessionID, stopReason, streamevent.Usage{}, nil))
		return true, nil
	}

	// 3. Assemble request.
	messages, err := l.store.LoadMessages(ctx, sessionID, 0)
	if err != nil {
		return true, err
	}
	req := l.assembleRequest(sess, messages)

	// 4. Call LLM.
	llmCtx, llmSpan := l.tracer.StartLLMCall(ctx, req.Model.ModelID, req.MaxOutputTokens, req.Temperature)
	llmStart := l.clk.Now()
	final, err := l.gateway.Execute(llmCtx, req, l.hub.Publish)
	l.metrics.RecordLLMCall(req.Model.ModelID, req.Model.ProviderID, l.clk.Now().Sub(llmStart))
	if err == nil {
		l.metrics.RecordLLMTokens(req.Model.ModelID, req.Model.ProviderID, final.Usage.InputTokens, final.Usage.OutputTokens)
		l.tracer.AddLLMUsage(llmSpan, final.Usage.InputTokens, final.Usage.OutputTokens)
		l.tracer.AddLLMFinishReason(llmSpan, string(final.StopReason))
	} else {
		l.metrics.RecordLLMError(req.Model.ModelID, req.Model.ProviderID, fmt.Sprintf("%T", err))
		l.tracer.RecordError(llmSpan, err)
	}
	llmSpan.End()
	if l.breakers != nil {
		if err != nil {
			l.breakers.RecordFailure(sess.AgentID, llmPseudoTool)
		} else {
			l.breakers.RecordSuccess(sess.AgentID, llmPseudoTool)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled, not failed: whoever cancelled ctx records the
			// terminal state.
			return true, err
		}
		sess.State = session.StateFailed
		sess.Reason = err.Error()
		l.save(ctx, sess)
		l.tracer.AddStopReason(stepSpan, string(streamevent.StopError))
		l.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopError, streamevent.Usage{}, err))
		return true, err
	}

	// 5. Post-LLM bookkeeping.
	costUSD := float64(final.Usage.InputTokens)*l.cfg.UnitCost.PerInputToken +
		float64(final.Usage.OutputTokens)*l.cfg.UnitCost.PerOutputToken
	if l.budgets != nil {
		_, _ = l.budgets.Record(ctx, sess.AgentID, costUSD)
	}
	sess.Step++
	sess.InputTokensTotal += final.Usage.InputTokens
	sess.OutputTokensTotal += final.Usage.OutputTokens
	sess.CostTotalUSD += costUSD
	sess.LastHeartbeatAt = l.clk.Now()

	assistantMsg := buildAssistantMessage(final)
	if err := l.store.AppendMessage(ctx, session.MessageDelta{SessionID: sessionID, Step: sess.Step, Message: assistantMsg}); err != nil {
		return true, err
	}

	if stopped := l.evaluateGuardrails(ctx, sess, final); stopped {
		return true, nil
	}

	// 6. Branch on stop reason.
	if final.StopReason == streamevent.StopMaxTokens {
		sess.State = session.StateFailed
		sess.Reason = "max_tokens"
		l.save(ctx, sess)
		l.tracer.AddStopReason(stepSpan, string(streamevent.StopMaxTokens))
		l.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopMaxTokens, final.Usage, nil))
		return true, nil
	}

	if len(final.ToolCalls) == 0 {
		sess.State = session.StateCompleted
		sess.TerminalAt = l.clk.Now()
		l.save(ctx, sess)
		l.tracer.AddStopReason(stepSpan, string(streamevent.StopEndTurn))
		l.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopEndTurn, final.Usage, nil))
		return true, nil
	}

	if sess.Config.MaxSteps > 0 && sess.Step >= sess.Config.MaxSteps {
		sess.State = session.StateFailed
		sess.Reason = "step_ceiling"
		l.save(ctx, sess)
		l.tracer.AddStopReason(stepSpan, string(streamevent.StopStepCeiling))
		l.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopStepCeiling, final.Usage, nil))
		return true, nil
	}

	// 7. Tool dispatch.
	suspended, err := l.dispatchTools(ctx, sess, final.ToolCalls)
	if err != nil {
		sess.State = session.StateFailed
		sess.Reason = err.Error()
		l.save(ctx, sess)
		return true, err
	}
	l.save(ctx, sess)
	return suspended, nil
}

func (l *Loop) save(ctx context.Context, sess *session.Session) {
	_ = l.store.SaveSession(ctx, sess)
}

// preflight implements spec.md §4.B step 2: budget, circuit breaker, and
// rate limit checks against the Governance Layer. An empty reason means
// the step may proceed.
func (l *Loop) preflight(ctx context.Context, sess *session.Session) (streamevent.StopReason, string) {
	if l.budgets != nil {
		pre, err := l.budgets.Preflight(ctx, sess.AgentID, sess.Config.MaxOutputTokens, sess.Config.MaxInputTokens, l.cfg.UnitCost)
		if err == nil && !pre.Allowed {
			return streamevent.StopBudgetExhausted, "budget_exhausted"
		}
	}
	if l.breakers != nil && !l.breakers.Allow(sess.AgentID, llmPseudoTool) {
		return streamevent.StopError, "circuit_open"
	}
	if l.rateLimit != nil {
		check, err := l.rateLimit.Allow(ctx, sess.AgentID, llmPseudoTool, 1)
		if err == nil && !check.Allowed {
			return streamevent.StopError, "rate_limited"
		}
	}
	return "", ""
}

// evaluateGuardrails runs the Governance Layer's guardrail rules at this
// step boundary (spec.md §4.E) and applies the most severe triggered
// action. It reports whether the session was stopped (paused or failed)
// as a result.
func (l *Loop) evaluateGuardrails(ctx context.Context, sess *session.Session, final llmgateway.FinalResponse) bool {
	if l.guardrails == nil {
		return false
	}
	obs := governance.StepObservation{
		AgentID:       sess.AgentID,
		SessionID:     sess.ID,
		AssistantText: final.Text,
		StepCostUSD:   float64(final.Usage.OutputTokens) * l.cfg.UnitCost.PerOutputToken,
	}
	triggers := l.guardrails.Evaluate(obs)
	if len(triggers) == 0 {
		return false
	}

	switch governance.MostSevere(triggers) {
	case governance.ActionStopAgent:
		sess.State = session.StateFailed
		sess.Reason = "guardrail:" + triggers[0].Rule
		l.save(ctx, sess)
		l.hub.Publish(streamevent.NewStepEnd(sess.ID, streamevent.StopGuardrail, final.Usage, nil))
		return true
	case governance.ActionPauseSession:
		sess.State = session.StatePaused
		sess.Reason = "guardrail:" + triggers[0].Rule
		l.save(ctx, sess)
		l.hub.Publish(streamevent.NewStepEnd(sess.ID, streamevent.StopGuardrail, final.Usage, nil))
		return true
	default:
		// log/alert: no session state change, step continues.
		return false
	}
}

// assembleRequest implements spec.md §4.B step 3: select system prompt +
// ordered messages, capped at the session's configured input-token
// ceiling via truncate.
func (l *Loop) assembleRequest(sess *session.Session, messages []session.Message) llmgateway.Request {
	msgs := messages
	if sess.Config.MaxInputTokens > 0 {
		msgs = l.truncate(sess, messages)
	}
	return llmgateway.Request{
		SessionID:       sess.ID,
		Model:           sess.Config.Model,
		SystemPrompt:    sess.Config.SystemPrompt,
		Messages:        msgs,
		Tools:           l.toolDefinitions(sess.Config.ToolAllowList),
		Temperature:     sess.Config.Temperature,
		MaxOutputTokens: sess.Config.MaxOutputTokens,
		RetryPolicy:     sess.Config.RetryPolicy,
	}
}

// truncate drops the oldest messages until the estimated input token count
// fits sess.Config.MaxInputTokens, never dropping the system prompt
// (carried separately, so it is never a candidate) and never dropping a
// message containing a tool_invocation that has no matching tool_result
// yet, per spec.md §4.B step 3.
func (l *Loop) truncate(sess *session.Session, messages []session.Message) []session.Message {
	if len(messages) == 0 {
		return messages
	}

	var invocations []session.ToolInvocationBlock
	var results []session.ToolResultBlock
	for _, m := range messages {
		invocations = append(invocations, m.ToolInvocations()...)
		for _, b := range m.Blocks {
			if rb, ok := b.(session.ToolResultBlock); ok {
				results = append(results, rb)
			}
		}
	}
	unresolved := make(map[string]bool)
	for _, inv := range session.UnresolvedToolInvocations(invocations, results) {
		unresolved[inv.ID] = true
	}

	kept := append([]session.Message(nil), messages...)
	for len(kept) > 1 {
		req := llmgateway.Request{Model: sess.Config.Model, SystemPrompt: sess.Config.SystemPrompt, Messages: kept}
		if l.gateway.EstimateInputTokens(req) <= sess.Config.MaxInputTokens {
			break
		}

		dropIdx := -1
		for i, m := range kept {
			droppable := true
			for _, inv := range m.ToolInvocations() {
				if unresolved[inv.ID] {
					droppable = false
					break
				}
			}
			if droppable {
				dropIdx = i
				break
			}
		}
		if dropIdx == -1 {
			break
		}
		kept = append(kept[:dropIdx], kept[dropIdx+1:]...)
	}
	return kept
}

func (l *Loop) toolDefinitions(allowList []string) []llmgateway.ToolDefinition {
	handlers := l.tools.EffectiveCatalog(allowList)
	defs := make([]llmgateway.ToolDefinition, 0, len(handlers))
	for _, h := range handlers {
		defs = append(defs, llmgateway.ToolDefinition{
			Name:        h.Name(),
			Description: h.Description(),
			Parameters:  h.Schema(),
		})
	}
	return defs
}

func buildAssistantMessage(final llmgateway.FinalResponse) session.Message {
	var blocks []session.Block
	if final.Reasoning != "" {
		blocks = append(blocks, session.ReasoningBlock{Text: final.Reasoning})
	}
	if final.Text != "" {
		blocks = append(blocks, session.TextBlock{Text: final.Text})
	}
	for _, tc := range final.ToolCalls {
		blocks = append(blocks, tc)
	}
	return session.Message{Role: session.RoleAssistant, Blocks: blocks}
}

// dispatchTools implements spec.md §4.B step 7: submit every ToolCall to
// the Tool Executor (parallel by default, serialized per-session for
// mutates=true handlers — enforced inside Executor.ExecuteParallel), and
// once every call has returned, append a tool_result message for each. A call
// that comes back approval_rejected suspends the session into
// awaiting_approval instead of being treated as a failed tool call.
func (l *Loop) dispatchTools(ctx context.Context, sess *session.Session, calls []session.ToolInvocationBlock) (suspended bool, err error) {
	profile, sandbox := l.cfg.ResolvePolicy(sess.AgentID, sess.OrgID)
	ectx := tool.ExecutionContext{
		AgentID:     sess.AgentID,
		OrgID:       sess.OrgID,
		SessionID:   sess.ID,
		Credentials: l.credentials,
		Sandbox:     sandbox,
		Profile:     profile,
	}

	toolCalls := make([]tool.ToolCall, len(calls))
	toolSpans := make(map[string]trace.Span, len(calls))
	for i, c := range calls {
		toolCalls[i] = tool.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		_, span := l.tracer.StartToolExecution(ctx, c.Name, c.ID)
		toolSpans[c.ID] = span
		l.hub.Publish(streamevent.NewToolCallStart(sess.ID, c.Name, c.ID))
	}

	dispatchStart := l.clk.Now()
	results, err := l.executor.ExecuteParallel(ctx, sess.ID, toolCalls, ectx)
	dispatchDuration := l.clk.Now().Sub(dispatchStart)
	if err != nil {
		for _, span := range toolSpans {
			l.tracer.RecordError(span, err)
			span.End()
		}
		return false, err
	}

	resultByCall := make(map[string]tool.ToolResult, len(results))
	for _, res := range results {
		resultByCall[res.CallID] = res
	}
	for _, c := range calls {
		span := toolSpans[c.ID]
		res, ok := resultByCall[c.ID]
		l.metrics.RecordToolCall(c.Name, dispatchDuration)
		if !ok {
			span.End()
			continue
		}
		l.tracer.AddToolPayload(span, fmt.Sprintf("%v", c.Arguments), res.Payload)
		if res.IsError {
			l.metrics.RecordToolError(c.Name, string(res.Failure))
			l.tracer.RecordError(span, fmt.Errorf("%s", res.Failure))
		}
		span.End()
	}

	for _, res := range results {
		l.hub.Publish(streamevent.NewToolResult(sess.ID, res.CallID, !res.IsError, res.Payload))

		if res.IsError && res.Failure == tool.FailureApprovalRejected {
			sess.State = session.StateAwaitingApproval
			sess.Reason = fmt.Sprintf("approval:%v", res.Metadata["approvalRequestId"])
			suspended = true
			continue
		}

		block := session.ToolResultBlock{RefID: res.CallID, Payload: res.Payload, IsError: res.IsError, Truncated: res.Truncated}
		msg := session.Message{Role: session.RoleUser, Blocks: []session.Block{block}}
		if aerr := l.store.AppendMessage(ctx, session.MessageDelta{SessionID: sess.ID, Step: sess.Step, Message: msg}); aerr != nil {
			return suspended, aerr
		}
	}

	if suspended {
		return true, nil
	}
	sess.State = session.StateAwaitingTool
	return false, nil
}
