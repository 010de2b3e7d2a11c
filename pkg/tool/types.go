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
	"time"

	"github.com/agenticmail/agentcore/pkg/credential"
)

// SandboxDescriptor is a per-agent boundary the path and network sandbox
// gates enforce, per spec.md §4.D.
type SandboxDescriptor struct {
	// AllowedDirs is the set of filesystem roots a path-touching tool's
	// arguments must resolve under. Empty means any directory is allowed
	// (subject to BlockedPathPatterns).
	AllowedDirs []string
	// BlockedPathPatterns are glob patterns matched against both the
	// cleaned path and its final element; a match on either blocks it.
	BlockedPathPatterns []string

	// AllowedHosts is the set of hostnames a network-touching tool's URL
	// arguments must resolve to. Empty means any host is allowed (subject
	// to BlockedCIDRs).
	AllowedHosts []string
	// BlockedCIDRs are networks (loopback/link-local/private ranges for
	// SSRF defense) a URL's host must not fall in. Only a host written as a
	// literal IP address is checked; hostnames are not resolved.
	BlockedCIDRs []string

	// AllowedCommands is the allowlist of top-level shell commands, used
	// when a tool's CommandSanitizerMode is allowlist.
	AllowedCommands []string
	// BlockedCommandPatterns are substrings/patterns no shell argument may
	// match, used when a tool's CommandSanitizerMode is blocklist.
	BlockedCommandPatterns []string
}

// PermissionProfile bounds which tools an agent may call at all and which
// ones require human approval before running, per spec.md §4.D.
type PermissionProfile struct {
	MaxRiskLevel       RiskLevel
	BlockedSideEffects []SideEffect

	// ApprovalThreshold: a tool whose RiskLevel is at or above this, or
	// whose SideEffects intersects RequiresApproval, suspends the session
	// for human sign-off instead of running immediately.
	ApprovalThreshold RiskLevel
	RequiresApproval  []SideEffect

	Approvers []string
}

// Allows reports whether a handler's declared risk and side effects pass
// this profile's permission gate (independent of the approval gate).
func (p PermissionProfile) Allows(h Handler) bool {
	if h.RiskLevel() > p.MaxRiskLevel {
		return false
	}
	blocked := make(map[SideEffect]bool, len(p.BlockedSideEffects))
	for _, se := range p.BlockedSideEffects {
		blocked[se] = true
	}
	for _, se := range h.SideEffects() {
		if blocked[se] {
			return false
		}
	}
	return true
}

// NeedsApproval reports whether h's risk or side effects cross this
// profile's approval threshold.
func (p PermissionProfile) NeedsApproval(h Handler) bool {
	if h.RiskLevel() >= p.ApprovalThreshold {
		return true
	}
	required := make(map[SideEffect]bool, len(p.RequiresApproval))
	for _, se := range p.RequiresApproval {
		required[se] = true
	}
	for _, se := range h.SideEffects() {
		if required[se] {
			return true
		}
	}
	return false
}

// ExecutionContext carries everything a Handler and the policy gates need
// about the calling agent and session, per spec.md §4.D "Inputs".
type ExecutionContext struct {
	AgentID   string
	OrgID     string
	SessionID string
	CallID    string

	Credentials credential.Resolver
	Sandbox     SandboxDescriptor
	Profile     PermissionProfile

	// Deadline overrides the tool's default execution deadline when
	// non-zero (spec.md §4.D "Execution", default 30s).
	Deadline time.Duration
}
