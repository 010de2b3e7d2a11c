// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package governance

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalPolicy determines how multiple approvers resolve one request.
type ApprovalPolicy string

const (
	PolicyAny   ApprovalPolicy = "any"   // resolves on first response
	PolicyAll   ApprovalPolicy = "all"   // requires every approver
	PolicyChain ApprovalPolicy = "chain" // advances sequentially
)

// ApprovalDecision is one approver's response.
type ApprovalDecision string

const (
	DecisionPending ApprovalDecision = "pending"
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// EscalationPolicy governs what happens when a request's deadline passes
// with no resolution.
type EscalationPolicy struct {
	AutoReject bool
	EscalateTo []string
}

// ApprovalRequest gates a tool call requiring human sign-off.
type ApprovalRequest struct {
	RequestID string
	SessionID string
	ToolName  string
	CallID    string
	Approvers []string
	Policy    ApprovalPolicy
	Deadline  time.Time
	Escalate  EscalationPolicy

	resolved  map[string]ApprovalDecision
	chainNext int
	outcome   ApprovalDecision
	comment   string
}

// Approvals tracks in-flight approval requests and resolves them according
// to their policy.
type Approvals struct {
	mu       sync.Mutex
	requests map[string]*ApprovalRequest
}

func NewApprovals() *Approvals {
	return &Approvals{requests: make(map[string]*ApprovalRequest)}
}

// Request opens a new ApprovalRequest and returns it for the caller to
// persist and notify approvers about.
func (a *Approvals) Request(sessionID, toolName, callID string, approvers []string, policy ApprovalPolicy, deadline time.Time, escalate EscalationPolicy) *ApprovalRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := &ApprovalRequest{
		RequestID: uuid.NewString(),
		SessionID: sessionID,
		ToolName:  toolName,
		CallID:    callID,
		Approvers: approvers,
		Policy:    policy,
		Deadline:  deadline,
		Escalate:  escalate,
		resolved:  make(map[string]ApprovalDecision),
		outcome:   DecisionPending,
	}
	a.requests[req.RequestID] = req
	return req
}

// Get returns the request by id, if still tracked.
func (a *Approvals) Get(requestID string) (*ApprovalRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.requests[requestID]
	return r, ok
}

// Resolve records approver's decision and, if it settles the request under
// its policy, returns the final outcome (approve/reject) and true.
func (a *Approvals) Resolve(requestID, approver string, decision ApprovalDecision, comment string) (ApprovalDecision, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req, ok := a.requests[requestID]
	if !ok {
		return "", false, fmt.Errorf("governance: unknown approval request %s", requestID)
	}
	if req.outcome != DecisionPending {
		return req.outcome, true, nil
	}

	switch req.Policy {
	case PolicyAny:
		req.outcome = decision
		req.comment = comment
	case PolicyAll:
		req.resolved[approver] = decision
		if decision == DecisionReject {
			req.outcome = DecisionReject
			req.comment = comment
		} else if len(req.resolved) == len(req.Approvers) {
			req.outcome = DecisionApprove
		}
	case PolicyChain:
		if req.chainNext >= len(req.Approvers) || req.Approvers[req.chainNext] != approver {
			return "", false, fmt.Errorf("governance: %s is not next in the approval chain for %s", approver, requestID)
		}
		if decision == DecisionReject {
			req.outcome = DecisionReject
			req.comment = comment
		} else {
			req.chainNext++
			if req.chainNext == len(req.Approvers) {
				req.outcome = DecisionApprove
			}
		}
	default:
		return "", false, fmt.Errorf("governance: unknown approval policy %q", req.Policy)
	}

	if req.outcome == DecisionPending {
		return DecisionPending, false, nil
	}
	delete(a.requests, requestID)
	return req.outcome, true, nil
}

// ExpireIfPastDeadline applies the request's escalation policy once its
// deadline has passed and it is still pending, returning the outcome and
// true if it settled the request.
func (a *Approvals) ExpireIfPastDeadline(requestID string, now time.Time) (ApprovalDecision, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req, ok := a.requests[requestID]
	if !ok || req.outcome != DecisionPending {
		return "", false
	}
	if req.Deadline.IsZero() || now.Before(req.Deadline) {
		return "", false
	}

	if req.Escalate.AutoReject {
		req.outcome = DecisionReject
		delete(a.requests, requestID)
		return DecisionReject, true
	}
	// Escalation without auto-reject leaves the request pending for the
	// escalation targets; the caller is responsible for notifying them.
	return "", false
}
