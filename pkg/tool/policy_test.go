package tool

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionProfileAllowsRespectsMaxRiskAndBlockedEffects(t *testing.T) {
	profile := PermissionProfile{
		MaxRiskLevel:       RiskMedium,
		BlockedSideEffects: []SideEffect{SideEffectDataDeletion},
	}
	low := stubHandler{name: "low", risk: RiskLow, effects: []SideEffect{SideEffectFilesystemRead}}
	require.True(t, profile.Allows(low))

	tooRisky := stubHandler{name: "risky", risk: RiskCritical}
	require.False(t, profile.Allows(tooRisky))

	blockedEffect := stubHandler{name: "del", risk: RiskLow, effects: []SideEffect{SideEffectDataDeletion}}
	require.False(t, profile.Allows(blockedEffect))
}

func TestPermissionProfileNeedsApprovalAtThresholdOrDeclaredEffect(t *testing.T) {
	profile := PermissionProfile{
		ApprovalThreshold: RiskHigh,
		RequiresApproval:  []SideEffect{SideEffectShellExec},
	}
	require.True(t, profile.NeedsApproval(stubHandler{risk: RiskHigh}))
	require.True(t, profile.NeedsApproval(stubHandler{risk: RiskLow, effects: []SideEffect{SideEffectShellExec}}))
	require.False(t, profile.NeedsApproval(stubHandler{risk: RiskLow, effects: []SideEffect{SideEffectFilesystemRead}}))
}

func TestCheckPathAllowedEnforcesAllowedDirsAndBlockedPatterns(t *testing.T) {
	sb := SandboxDescriptor{
		AllowedDirs:         []string{"/workspace"},
		BlockedPathPatterns: []string{"*.secret"},
	}
	require.NoError(t, checkPathAllowed(sb, "/workspace/readme.md"))
	require.Error(t, checkPathAllowed(sb, "/etc/passwd"))
	require.Error(t, checkPathAllowed(sb, "/workspace/keys.secret"))
}

func TestCheckURLAllowedEnforcesHostAllowlistAndBlockedCIDR(t *testing.T) {
	sb := SandboxDescriptor{
		AllowedHosts: []string{"api.example.com"},
	}
	require.NoError(t, checkURLAllowed(sb, "https://api.example.com/v1"))
	require.Error(t, checkURLAllowed(sb, "https://evil.example.com/v1"))

	sbCIDR := SandboxDescriptor{BlockedCIDRs: []string{"169.254.0.0/16"}}
	require.Error(t, checkURLAllowed(sbCIDR, "http://169.254.169.254/latest/meta-data"))
	require.NoError(t, checkURLAllowed(sbCIDR, "http://93.184.216.34/"))
}

func TestGateCommandSanitizerAllowlistAndBlocklistModes(t *testing.T) {
	allow := stubShellHandler{arg: "command", mode: CommandModeAllowlist}
	ectxAllow := ExecutionContext{Sandbox: SandboxDescriptor{AllowedCommands: []string{"ls"}}}
	require.NoError(t, gateCommandSanitizer(allow, ectxAllow, map[string]any{"command": "ls -la"}))
	require.Error(t, gateCommandSanitizer(allow, ectxAllow, map[string]any{"command": "rm -rf /"}))

	block := stubShellHandler{arg: "command", mode: CommandModeBlocklist}
	ectxBlock := ExecutionContext{Sandbox: SandboxDescriptor{BlockedCommandPatterns: []string{`rm\s+-rf`}}}
	require.NoError(t, gateCommandSanitizer(block, ectxBlock, map[string]any{"command": "ls -la"}))
	require.Error(t, gateCommandSanitizer(block, ectxBlock, map[string]any{"command": "rm -rf /tmp"}))
}

type stubShellHandler struct {
	stubHandler
	arg  string
	mode CommandSanitizerMode
}

func (s stubShellHandler) CommandArgument() string          { return s.arg }
func (s stubShellHandler) CommandMode() CommandSanitizerMode { return s.mode }

func TestScanDLPBlocksRedactsAndAlerts(t *testing.T) {
	rules := []DLPRule{
		{Name: "ssn", Pattern: regexp.MustCompile(`\d{3}-\d{2}-\d{4}`), Action: DLPRedact},
		{Name: "secret-token", Pattern: regexp.MustCompile(`sk-live-\w+`), Action: DLPBlock},
	}

	redacted, violations, blocked := scanDLP(rules, map[string]any{"note": "ssn is 123-45-6789"})
	require.False(t, blocked)
	require.Len(t, violations, 1)
	require.Equal(t, "ssn is [REDACTED]", redacted["note"])

	_, violations, blocked = scanDLP(rules, map[string]any{"token": "sk-live-abc123"})
	require.True(t, blocked)
	require.Len(t, violations, 1)
}
