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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agenticmail/agentcore/pkg/governance"
	"github.com/agenticmail/agentcore/pkg/llmgateway"
	"github.com/agenticmail/agentcore/pkg/tool"
	"github.com/agenticmail/agentcore/pkg/tool/mcptoolset"
	"github.com/agenticmail/agentcore/pkg/tool/plugintoolset"
)

// PolicyDocument is the declarative policy bundle hot-reloaded without a
// restart: guardrail rules, per-agent-class permission profiles, tool
// sandbox boundaries, extra LLM provider registry entries, and the MCP
// servers and tool plugins to connect as skill adapters. The first, second
// and fourth are the concerns SPEC_FULL.md §10.3 names as YAML-loaded and
// fsnotify-watched, mirroring how the teacher's pkg/config/provider/file.go
// watches its agent-definition file.
type PolicyDocument struct {
	GuardrailRules []DeclarativeGuardrailRule       `yaml:"guardrail_rules"`
	Profiles       map[string]DeclarativePermission `yaml:"permission_profiles"`
	Sandboxes      map[string]DeclarativeSandbox    `yaml:"sandboxes"`
	Providers      []llmgateway.ProviderDefinition  `yaml:"providers"`
	MCPServers     []DeclarativeMCPServer           `yaml:"mcp_servers"`
	Plugins        []DeclarativePlugin              `yaml:"plugins"`
}

// DeclarativeMCPServer is the YAML form of an mcptoolset.Config: one MCP
// server this runtime's tool registry should be extended with.
type DeclarativeMCPServer struct {
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url,omitempty"`
	Transport  string            `yaml:"transport,omitempty"`
	Command    string            `yaml:"command,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Filter     []string          `yaml:"filter,omitempty"`
	RiskLevel  string            `yaml:"risk_level,omitempty"`
}

func (d DeclarativeMCPServer) compile() (mcptoolset.Config, error) {
	risk := tool.RiskMedium
	if d.RiskLevel != "" {
		r, ok := riskLevelsByName[d.RiskLevel]
		if !ok {
			return mcptoolset.Config{}, fmt.Errorf("config: mcp server %q: unknown risk_level %q", d.Name, d.RiskLevel)
		}
		risk = r
	}
	return mcptoolset.Config{
		Name:      d.Name,
		URL:       d.URL,
		Transport: d.Transport,
		Command:   d.Command,
		Args:      d.Args,
		Env:       d.Env,
		Filter:    d.Filter,
		RiskLevel: risk,
	}, nil
}

// DeclarativePlugin is the YAML form of a plugintoolset.Config: one
// out-of-process tool plugin binary this runtime's tool registry should be
// extended with.
type DeclarativePlugin struct {
	Name         string   `yaml:"name"`
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args,omitempty"`
	Env          []string `yaml:"env,omitempty"`
	MaxRiskLevel string   `yaml:"max_risk_level,omitempty"`
}

func (d DeclarativePlugin) compile() (plugintoolset.Config, error) {
	var maxRisk tool.RiskLevel
	if d.MaxRiskLevel != "" {
		r, ok := riskLevelsByName[d.MaxRiskLevel]
		if !ok {
			return plugintoolset.Config{}, fmt.Errorf("config: plugin %q: unknown max_risk_level %q", d.Name, d.MaxRiskLevel)
		}
		maxRisk = r
	}
	return plugintoolset.Config{
		Name:         d.Name,
		Command:      d.Command,
		Args:         d.Args,
		Env:          d.Env,
		MaxRiskLevel: maxRisk,
	}, nil
}

// DeclarativeSandbox is the YAML form of a tool.SandboxDescriptor. A
// wrapper (rather than embedding tool.SandboxDescriptor directly) is
// needed because that struct carries no yaml tags of its own, and its
// exported field names don't match this document's snake_case keys.
type DeclarativeSandbox struct {
	AllowedDirs            []string `yaml:"allowed_dirs"`
	BlockedPathPatterns    []string `yaml:"blocked_path_patterns"`
	AllowedHosts           []string `yaml:"allowed_hosts"`
	BlockedCIDRs           []string `yaml:"blocked_cidrs"`
	AllowedCommands        []string `yaml:"allowed_commands"`
	BlockedCommandPatterns []string `yaml:"blocked_command_patterns"`
}

func (d DeclarativeSandbox) compile() tool.SandboxDescriptor {
	return tool.SandboxDescriptor{
		AllowedDirs:            d.AllowedDirs,
		BlockedPathPatterns:    d.BlockedPathPatterns,
		AllowedHosts:           d.AllowedHosts,
		BlockedCIDRs:           d.BlockedCIDRs,
		AllowedCommands:        d.AllowedCommands,
		BlockedCommandPatterns: d.BlockedCommandPatterns,
	}
}

// DeclarativeGuardrailRule is the YAML form of a governance.GuardrailRule:
// governance.GuardrailRule.Predicate is a func value and can't be
// unmarshalled directly, so the document names one of a small fixed set of
// predicate kinds and its parameter instead, and Compile builds the real
// rule from it.
type DeclarativeGuardrailRule struct {
	Name   string                     `yaml:"name"`
	Action governance.GuardrailAction `yaml:"action"`
	Kind   string                     `yaml:"kind"` // contains_pattern | cost_spike | call_frequency
	// Pattern is the substring for kind: contains_pattern.
	Pattern string `yaml:"pattern,omitempty"`
	// ThresholdUSD is the per-step cost ceiling for kind: cost_spike.
	ThresholdUSD float64 `yaml:"threshold_usd,omitempty"`
	// MaxCallsPerMinute is the ceiling for kind: call_frequency.
	MaxCallsPerMinute int `yaml:"max_calls_per_minute,omitempty"`
}

// compile builds the runtime governance.GuardrailRule this declaration
// names. An unrecognized Kind is a config error, not a silently-skipped
// rule, since a typo'd rule kind should fail loudly at reload time rather
// than leave a guardrail quietly absent.
func (d DeclarativeGuardrailRule) compile() (governance.GuardrailRule, error) {
	rule := governance.GuardrailRule{Name: d.Name, Action: d.Action}
	switch d.Kind {
	case "contains_pattern":
		rule.Predicate = governance.ContainsPattern(d.Pattern)
	case "cost_spike":
		rule.Predicate = governance.CostSpike(d.ThresholdUSD)
	case "call_frequency":
		rule.Predicate = governance.CallFrequencyAnomaly(d.MaxCallsPerMinute)
	default:
		return rule, fmt.Errorf("config: guardrail rule %q: unknown kind %q", d.Name, d.Kind)
	}
	return rule, nil
}

// DeclarativePermission is the YAML form of tool.PermissionProfile:
// tool.RiskLevel is an unexported-friendly int enum with no YAML
// marshaling of its own, so the document names risk levels by their
// lowercase string and Compile maps them back.
type DeclarativePermission struct {
	MaxRiskLevel       string            `yaml:"max_risk_level"`
	BlockedSideEffects []tool.SideEffect `yaml:"blocked_side_effects"`
	ApprovalThreshold  string            `yaml:"approval_threshold"`
	RequiresApproval   []tool.SideEffect `yaml:"requires_approval"`
	Approvers          []string          `yaml:"approvers"`
}

var riskLevelsByName = map[string]tool.RiskLevel{
	"low":      tool.RiskLow,
	"medium":   tool.RiskMedium,
	"high":     tool.RiskHigh,
	"critical": tool.RiskCritical,
}

func (d DeclarativePermission) compile() (tool.PermissionProfile, error) {
	maxRisk, ok := riskLevelsByName[d.MaxRiskLevel]
	if !ok {
		return tool.PermissionProfile{}, fmt.Errorf("config: unknown max_risk_level %q", d.MaxRiskLevel)
	}
	threshold := tool.RiskCritical + 1 // never trips if unset
	if d.ApprovalThreshold != "" {
		threshold, ok = riskLevelsByName[d.ApprovalThreshold]
		if !ok {
			return tool.PermissionProfile{}, fmt.Errorf("config: unknown approval_threshold %q", d.ApprovalThreshold)
		}
	}
	return tool.PermissionProfile{
		MaxRiskLevel:       maxRisk,
		BlockedSideEffects: d.BlockedSideEffects,
		ApprovalThreshold:  threshold,
		RequiresApproval:   d.RequiresApproval,
		Approvers:          d.Approvers,
	}, nil
}

// CompiledPolicy is the runtime form of a PolicyDocument: everything a
// governance.Guardrails.SetRules call or a tool.Registry lookup needs,
// with every declarative reference resolved and validated.
type CompiledPolicy struct {
	GuardrailRules []governance.GuardrailRule
	Profiles       map[string]tool.PermissionProfile
	Sandboxes      map[string]tool.SandboxDescriptor
	Providers      []llmgateway.ProviderDefinition
	MCPServers     []mcptoolset.Config
	Plugins        []plugintoolset.Config
}

// Compile resolves every declarative reference in d into its runtime form.
func (d *PolicyDocument) Compile() (*CompiledPolicy, error) {
	compiled := &CompiledPolicy{
		Providers: d.Providers,
		Profiles:  make(map[string]tool.PermissionProfile, len(d.Profiles)),
		Sandboxes: make(map[string]tool.SandboxDescriptor, len(d.Sandboxes)),
	}
	for name, sandbox := range d.Sandboxes {
		compiled.Sandboxes[name] = sandbox.compile()
	}
	for _, rule := range d.GuardrailRules {
		r, err := rule.compile()
		if err != nil {
			return nil, err
		}
		compiled.GuardrailRules = append(compiled.GuardrailRules, r)
	}
	for name, profile := range d.Profiles {
		p, err := profile.compile()
		if err != nil {
			return nil, fmt.Errorf("config: permission profile %q: %w", name, err)
		}
		compiled.Profiles[name] = p
	}
	for _, server := range d.MCPServers {
		c, err := server.compile()
		if err != nil {
			return nil, err
		}
		compiled.MCPServers = append(compiled.MCPServers, c)
	}
	for _, p := range d.Plugins {
		c, err := p.compile()
		if err != nil {
			return nil, err
		}
		compiled.Plugins = append(compiled.Plugins, c)
	}
	return compiled, nil
}

// LoadPolicyDocument reads and compiles the PolicyDocument at path.
func LoadPolicyDocument(path string) (*CompiledPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy document: %w", err)
	}
	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse policy document: %w", err)
	}
	return doc.Compile()
}
