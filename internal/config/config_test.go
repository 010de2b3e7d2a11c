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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "agentcore", cfg.JWTIssuer)
	require.Equal(t, 60*time.Second, cfg.StaleThreshold)
	require.True(t, cfg.MetricsEnabled)
}

func TestLoadReadsEnvironmentOverDefault(t *testing.T) {
	t.Setenv("AGENTCORE_HTTP_ADDR", ":9090")
	t.Setenv("AGENTCORE_TRACING_ENABLED", "true")
	t.Setenv("AGENTCORE_TRACING_SAMPLING_RATE", "0.25")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.True(t, cfg.TracingEnabled)
	require.Equal(t, 0.25, cfg.TracingSampling)
}

const testPolicyYAML = `
guardrail_rules:
  - name: no-secrets-in-output
    action: pause_session
    kind: contains_pattern
    pattern: "BEGIN PRIVATE KEY"
  - name: cost-spike
    action: alert
    kind: cost_spike
    threshold_usd: 5.0

permission_profiles:
  default:
    max_risk_level: medium
    blocked_side_effects: [data_deletion]
    approval_threshold: high
    requires_approval: [shell_exec]
    approvers: ["ops-oncall"]

sandboxes:
  default:
    allowed_dirs: ["/workspace"]
`

func TestLoadPolicyDocumentCompiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicyYAML), 0o644))

	policy, err := LoadPolicyDocument(path)
	require.NoError(t, err)
	require.Len(t, policy.GuardrailRules, 2)
	require.Contains(t, policy.Profiles, "default")
	require.Equal(t, []string{"/workspace"}, policy.Sandboxes["default"].AllowedDirs)
}

func TestLoadPolicyDocumentCompilesSkillAdapters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mcp_servers:
  - name: filesystem
    command: mcp-server-filesystem
    args: ["/workspace"]
    risk_level: high

plugins:
  - name: legacy-crm
    command: ./plugins/crm-tool
    max_risk_level: medium
`), 0o644))

	policy, err := LoadPolicyDocument(path)
	require.NoError(t, err)
	require.Len(t, policy.MCPServers, 1)
	require.Equal(t, "filesystem", policy.MCPServers[0].Name)
	require.Equal(t, []string{"/workspace"}, policy.MCPServers[0].Args)

	require.Len(t, policy.Plugins, 1)
	require.Equal(t, "legacy-crm", policy.Plugins[0].Name)
	require.Equal(t, "./plugins/crm-tool", policy.Plugins[0].Command)
}

func TestLoadPolicyDocumentRejectsUnknownSkillAdapterRiskLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mcp_servers:
  - name: bad
    command: mcp-server
    risk_level: catastrophic
`), 0o644))

	_, err := LoadPolicyDocument(path)
	require.Error(t, err)
}

func TestLoadPolicyDocumentRejectsUnknownRuleKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guardrail_rules:
  - name: bad
    action: log
    kind: not-a-real-kind
`), 0o644))

	_, err := LoadPolicyDocument(path)
	require.Error(t, err)
}

func TestWatchPolicyDocumentReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicyYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := WatchPolicyDocument(ctx, path, nil)
	require.NoError(t, err)
	require.Len(t, w.Current().GuardrailRules, 2)

	require.NoError(t, os.WriteFile(path, []byte(`
guardrail_rules:
  - name: only-one-now
    action: log
    kind: cost_spike
    threshold_usd: 1.0
`), 0o644))

	require.Eventually(t, func() bool {
		return len(w.Current().GuardrailRules) == 1
	}, 2*time.Second, 20*time.Millisecond)
}
