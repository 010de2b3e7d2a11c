package mcptoolset

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/agenticmail/agentcore/pkg/tool"
)

func TestNewRequiresURLOrCommand(t *testing.T) {
	_, err := New(Config{Name: "bad"})
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	ts, err := New(Config{Name: "fs", Command: "mcp-server-fs"})
	require.NoError(t, err)
	require.Equal(t, 3, ts.cfg.MaxRetries)
	require.Equal(t, DefaultSSEResponseTimeout, ts.cfg.SSETimeout)
	require.Equal(t, tool.SideEffectExternalAPI, ts.cfg.SideEffects[0])
}

func TestConvertEnv(t *testing.T) {
	out := convertEnv(map[string]string{"A": "1"})
	require.Equal(t, []string{"A=1"}, out)
	require.Nil(t, convertEnv(nil))
}

func TestParseToolResultCollectsTextContent(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "hello"}},
	}
	out, err := parseToolResult(resp)
	require.NoError(t, err)
	require.Equal(t, "hello", out["result"])
}

func TestParseToolResultCollectsMultipleTexts(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "a"},
			mcp.TextContent{Type: "text", Text: "b"},
		},
	}
	out, err := parseToolResult(resp)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out["results"])
}

func TestParseToolResultReportsErrorContent(t *testing.T) {
	resp := &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "boom"}},
	}
	out, err := parseToolResult(resp)
	require.NoError(t, err)
	require.Equal(t, "boom", out["error"])
}

func TestNamedHandlerOverridesName(t *testing.T) {
	h := &namedHandler{Handler: &mcpHandler{name: "read", desc: "reads"}, name: "fs.read"}
	require.Equal(t, "fs.read", h.Name())
	require.Equal(t, "reads", h.Description())
}
