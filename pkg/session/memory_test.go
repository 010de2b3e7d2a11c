package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := &Session{ID: "s1", AgentID: "a1", State: StateRunning, CreatedAt: time.Now()}
	require.NoError(t, store.SaveSession(ctx, s))

	require.NoError(t, store.AppendMessage(ctx, MessageDelta{
		SessionID: "s1", Step: 0,
		Message: Message{Role: RoleUser, Blocks: []Block{TextBlock{Text: "hi"}}},
	}))
	require.NoError(t, store.AppendMessage(ctx, MessageDelta{
		SessionID: "s1", Step: 1,
		Message: Message{Role: RoleAssistant, Blocks: []Block{TextBlock{Text: "hello"}}},
	}))

	msgs, err := store.LoadMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Text())
	require.Equal(t, "hello", msgs[1].Text())

	fromStep1, err := store.LoadMessages(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, fromStep1, 1)
}

func TestMemoryStoreLoadMissingSession(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.LoadSession(context.Background(), "nope")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestEnumerateNonTerminalSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSession(ctx, &Session{ID: "running", State: StateRunning}))
	require.NoError(t, store.SaveSession(ctx, &Session{ID: "done", State: StateCompleted}))

	sessions, err := store.EnumerateNonTerminalSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "running", sessions[0].ID)
}

func TestUnresolvedToolInvocations(t *testing.T) {
	invocations := []ToolInvocationBlock{{ID: "a"}, {ID: "b"}}
	results := []ToolResultBlock{{RefID: "a"}}

	unresolved := UnresolvedToolInvocations(invocations, results)
	require.Len(t, unresolved, 1)
	require.Equal(t, "b", unresolved[0].ID)
}
