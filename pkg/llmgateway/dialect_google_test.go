package llmgateway

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

func TestGoogleDialectBuildRequestUsesSystemInstructionAndModelRole(t *testing.T) {
	d := googleDialect{}
	req := Request{
		Model:        session.ModelSelector{ModelID: "gemini-1.5-pro"},
		SystemPrompt: "You are helpful",
		Messages: []session.Message{
			{Role: session.RoleAssistant, Blocks: []session.Block{session.TextBlock{Text: "hi"}}},
		},
	}

	method, path, _, body, err := d.BuildRequest(ProviderDefinition{}, req)
	require.NoError(t, err)
	require.Equal(t, "POST", method)
	require.Equal(t, "/models/gemini-1.5-pro:streamGenerateContent?alt=sse", path)
	require.Contains(t, string(body), `"systemInstruction"`)
	require.Contains(t, string(body), `"role":"model"`)
}

func TestGoogleDialectParseStreamExtractsFunctionCall(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`,
		`data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"echo","args":{"text":"hi"}}}]}}]}`,
		`data: {"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4}}`,
		``,
	}, "\n")

	var sawToolCallStart bool
	final, err := googleDialect{}.ParseStream(context.Background(), "s1", strings.NewReader(sse), func(e streamevent.Event) {
		if e.Kind == streamevent.KindToolCallStart {
			sawToolCallStart = true
		}
	})
	require.NoError(t, err)
	require.Equal(t, "ok", final.Text)
	require.Len(t, final.ToolCalls, 1)
	require.Equal(t, "echo", final.ToolCalls[0].Name)
	require.Equal(t, "hi", final.ToolCalls[0].Arguments["text"])
	require.Equal(t, 3, final.Usage.InputTokens)
	require.Equal(t, 4, final.Usage.OutputTokens)
	require.True(t, sawToolCallStart)
}

func TestGoogleDialectParseStreamPropagatesStreamError(t *testing.T) {
	sse := `data: {"error":{"message":"quota exceeded"}}` + "\n"
	_, err := googleDialect{}.ParseStream(context.Background(), "s1", strings.NewReader(sse), func(streamevent.Event) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exceeded")
}
