package reasoning

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenticmail/agentcore/pkg/clock"
	"github.com/agenticmail/agentcore/pkg/governance"
	"github.com/agenticmail/agentcore/pkg/llmgateway"
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
	"github.com/agenticmail/agentcore/pkg/tool"
)

type staticResolver struct{ value string }

func (s staticResolver) Resolve(context.Context, string) (string, error) { return s.value, nil }

func newTestGateway(t *testing.T, sseBody string) *llmgateway.Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sseBody))
	}))
	t.Cleanup(srv.Close)

	gw := llmgateway.New(staticResolver{value: "k"})
	_ = gw.Providers().Remove("openai")
	require.NoError(t, gw.Providers().Register("openai", llmgateway.ProviderDefinition{
		ID:              "openai",
		APIType:         llmgateway.APITypeOpenAICompatible,
		BaseURL:         srv.URL,
		AuthHeaderShape: llmgateway.AuthBearer,
		CredentialRef:   "openai",
	}))
	return gw
}

func newTestSession(t *testing.T, store session.Store) *session.Session {
	t.Helper()
	sess := &session.Session{
		ID:      "sess-1",
		AgentID: "agent-1",
		OrgID:   "org-1",
		Config: session.Config{
			Model:           session.ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"},
			MaxOutputTokens: 256,
			MaxSteps:        10,
			SystemPrompt:    "you are a test agent",
		},
		State: session.StatePending,
	}
	require.NoError(t, store.SaveSession(context.Background(), sess))
	require.NoError(t, store.AppendMessage(context.Background(), session.MessageDelta{
		SessionID: sess.ID,
		Step:      0,
		Message:   session.Message{Role: session.RoleUser, Blocks: []session.Block{session.TextBlock{Text: "hello"}}},
	}))
	return sess
}

func TestLoopCompletesWhenModelReturnsNoToolCalls(t *testing.T) {
	gw := newTestGateway(t, "data: {\"choices\":[{\"delta\":{\"content\":\"hi there\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n"+
		"data: [DONE]\n")
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	hub := streamevent.NewHub(slog.Default())
	loop := NewLoop(store, gw, tool.NewRegistry(), nil, nil, nil, nil, nil, hub, nil, clock.NewFake(time.Now()), Config{}, nil, nil)

	done, err := loop.Step(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, done)

	got, err := store.LoadSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StateCompleted, got.State)
	require.Equal(t, 1, got.Step)
	require.Equal(t, 5, got.InputTokensTotal)
	require.Equal(t, 2, got.OutputTokensTotal)

	msgs, err := store.LoadMessages(context.Background(), sess.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "hi there", msgs[len(msgs)-1].Text())
}

func TestLoopDispatchesToolCallAndSuspendsAwaitingTool(t *testing.T) {
	gw := newTestGateway(t, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"echo\",\"arguments\":\"{\\\"text\\\":\\\"hi\\\"}\"}}]},\"finish_reason\":\"tool_calls\"}]}\n"+
		"data: [DONE]\n")
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register("echo", echoHandler{}))
	executor := tool.NewExecutor(registry, tool.Config{}, clock.NewFake(time.Now()), nil, nil, nil, nil)

	hub := streamevent.NewHub(slog.Default())
	loop := NewLoop(store, gw, registry, executor, nil, nil, nil, nil, hub, nil, clock.NewFake(time.Now()), Config{}, nil, nil)

	done, err := loop.Step(context.Background(), sess.ID)
	require.NoError(t, err)
	require.False(t, done, "session should suspend awaiting_tool, not terminate")

	got, err := store.LoadSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StateAwaitingTool, got.State)

	msgs, err := store.LoadMessages(context.Background(), sess.ID, 0)
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	require.Len(t, last.Blocks, 1)
	resultBlock, ok := last.Blocks[0].(session.ToolResultBlock)
	require.True(t, ok)
	require.False(t, resultBlock.IsError)
	require.Equal(t, "call_1", resultBlock.RefID)
}

func TestLoopPausesWhenBudgetExhausted(t *testing.T) {
	gw := newTestGateway(t, "data: [DONE]\n")
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	budgetStore := governance.NewMemoryBudgetStore()
	budgetStore.SetCap(sess.AgentID, 0)
	budgets := governance.NewBudgets(budgetStore, nil)

	hub := streamevent.NewHub(slog.Default())
	loop := NewLoop(store, gw, tool.NewRegistry(), nil, budgets, nil, nil, nil, hub, nil, clock.NewFake(time.Now()), Config{
		UnitCost: governance.UnitCost{PerInputToken: 0.01, PerOutputToken: 0.01},
	}, nil, nil)

	done, err := loop.Step(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, done)

	got, err := store.LoadSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatePaused, got.State)
	require.Equal(t, "budget_exhausted", got.Reason)
}

func TestTruncateKeepsSystemPromptAndUnresolvedToolInvocation(t *testing.T) {
	gw := newTestGateway(t, "data: [DONE]\n")
	store := session.NewMemoryStore()
	loop := NewLoop(store, gw, tool.NewRegistry(), nil, nil, nil, nil, nil, streamevent.NewHub(slog.Default()), nil, clock.NewFake(time.Now()), Config{}, nil, nil)

	sess := &session.Session{
		ID:      "s2",
		AgentID: "a2",
		Config:  session.Config{Model: session.ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"}, MaxInputTokens: 1, SystemPrompt: "sys"},
	}
	messages := []session.Message{
		{Role: session.RoleUser, Blocks: []session.Block{session.TextBlock{Text: "old message one"}}},
		{Role: session.RoleAssistant, Blocks: []session.Block{session.ToolInvocationBlock{ID: "tc1", Name: "echo", Arguments: map[string]any{}}}},
		{Role: session.RoleUser, Blocks: []session.Block{session.TextBlock{Text: "most recent"}}},
	}

	kept := loop.truncate(sess, messages)
	require.NotEmpty(t, kept)

	var sawInvocation bool
	for _, m := range kept {
		if len(m.ToolInvocations()) > 0 {
			sawInvocation = true
		}
	}
	require.True(t, sawInvocation, "the unresolved tool_invocation message must survive truncation even under an aggressive ceiling")
}

type echoHandler struct{}

func (echoHandler) Name() string                   { return "echo" }
func (echoHandler) Description() string            { return "echoes its text argument" }
func (echoHandler) Schema() map[string]any         { return map[string]any{"type": "object"} }
func (echoHandler) RiskLevel() tool.RiskLevel       { return tool.RiskLow }
func (echoHandler) SideEffects() []tool.SideEffect  { return nil }
func (echoHandler) Mutates() bool                   { return false }

func (echoHandler) Call(_ context.Context, _ tool.ExecutionContext, args map[string]any) (map[string]any, error) {
	return map[string]any{"echoed": args["text"]}, nil
}

var _ tool.Handler = echoHandler{}
