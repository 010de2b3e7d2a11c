package llmgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

type staticResolver struct{ value string }

func (s staticResolver) Resolve(context.Context, string) (string, error) { return s.value, nil }

func TestGatewayExecuteStreamsAndEmitsStepEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"4\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":1}}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	gw := New(staticResolver{value: "test-secret"})
	_ = gw.Providers().Remove("openai")
	require.NoError(t, gw.Providers().Register("openai", ProviderDefinition{
		ID:              "openai",
		APIType:         APITypeOpenAICompatible,
		BaseURL:         srv.URL,
		AuthHeaderShape: AuthBearer,
		CredentialRef:   "openai",
	}))

	req := Request{
		SessionID: "s1",
		Model:     session.ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"},
		Messages: []session.Message{
			{Role: session.RoleUser, Blocks: []session.Block{session.TextBlock{Text: "2+2?"}}},
		},
	}

	var sawStepEnd bool
	var textDeltas string
	final, err := gw.Execute(context.Background(), req, func(e streamevent.Event) {
		if e.Kind == streamevent.KindTextDelta {
			textDeltas += e.TextDelta.Text
		}
		if e.Kind == streamevent.KindStepEnd {
			sawStepEnd = true
		}
	})

	require.NoError(t, err)
	require.Equal(t, "4", final.Text)
	require.Equal(t, "4", textDeltas)
	require.Equal(t, 10, final.Usage.InputTokens)
	require.True(t, sawStepEnd)
}

func TestGatewayExecuteFansRetryEvents(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	gw := New(staticResolver{value: "k"})
	_ = gw.Providers().Remove("openai")
	require.NoError(t, gw.Providers().Register("openai", ProviderDefinition{
		ID:              "openai",
		APIType:         APITypeOpenAICompatible,
		BaseURL:         srv.URL,
		AuthHeaderShape: AuthBearer,
		CredentialRef:   "openai",
	}))

	req := Request{
		SessionID: "s1",
		Model:     session.ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"},
		Messages: []session.Message{
			{Role: session.RoleUser, Blocks: []session.Block{session.TextBlock{Text: "hi"}}},
		},
		RetryPolicy: session.RetryPolicy{BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond},
	}

	var retryEvents int
	final, err := gw.Execute(context.Background(), req, func(e streamevent.Event) {
		if e.Kind == streamevent.KindRetry {
			retryEvents++
		}
	})

	require.NoError(t, err)
	require.Equal(t, "ok", final.Text)
	require.Equal(t, 1, retryEvents, "one retryable 500 must fan exactly one retry StreamEvent")
}

func TestGatewayExecuteHonorsRetryAfterHeader(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	gw := New(staticResolver{value: "k"})
	_ = gw.Providers().Remove("openai")
	require.NoError(t, gw.Providers().Register("openai", ProviderDefinition{
		ID:              "openai",
		APIType:         APITypeOpenAICompatible,
		BaseURL:         srv.URL,
		AuthHeaderShape: AuthBearer,
		CredentialRef:   "openai",
	}))

	req := Request{
		SessionID: "s1",
		Model:     session.ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"},
		Messages: []session.Message{
			{Role: session.RoleUser, Blocks: []session.Block{session.TextBlock{Text: "hi"}}},
		},
		RetryPolicy: session.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Second},
	}

	var delayMs int64
	final, err := gw.Execute(context.Background(), req, func(e streamevent.Event) {
		if e.Kind == streamevent.KindRetry {
			delayMs = e.Retry.DelayMs
		}
	})

	require.NoError(t, err)
	require.Equal(t, "ok", final.Text)
	require.GreaterOrEqual(t, delayMs, int64(900), "server's Retry-After: 1 must drive the backoff delay, not the 1ms base delay")
}

func TestHeaderParserForMatchesDialect(t *testing.T) {
	require.NotNil(t, headerParserFor(APITypeAnthropic))
	require.NotNil(t, headerParserFor(APITypeOpenAICompatible))
	require.NotNil(t, headerParserFor(APITypeGoogle))
	require.Nil(t, headerParserFor(APITypeOllama))
}

func TestGatewayExecuteUnknownProviderErrors(t *testing.T) {
	gw := New(staticResolver{value: "k"})
	_, err := gw.Execute(context.Background(), Request{Model: session.ModelSelector{ProviderID: "does-not-exist"}}, func(streamevent.Event) {})
	require.Error(t, err)
}
