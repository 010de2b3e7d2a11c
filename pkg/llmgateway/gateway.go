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

package llmgateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenticmail/agentcore/pkg/credential"
	"github.com/agenticmail/agentcore/pkg/httpclient"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

// Gateway is the LLM Gateway of spec.md §4.C. It resolves a session's
// ModelSelector to a ProviderDefinition, delegates request shaping and
// stream parsing to that provider's Dialect, and owns every cross-dialect
// concern: transport retry/backoff, credential attachment, and token
// estimation for budget preflight.
type Gateway struct {
	providers  *ProviderRegistry
	credential credential.Resolver
	tokens     *TokenEstimator
	dialects   map[APIType]Dialect

	// httpClient, when set, is shared across calls (e.g. in tests with a
	// fixed fake transport). Production callers leave it nil: each call
	// builds its own httpclient.Client so WithOnRetry can close over that
	// call's own emit callback (httpclient.Client.onRetry is fixed at
	// construction and cannot be swapped per call on a shared instance).
	httpClient *http.Client
}

// New constructs a Gateway with the default provider registry, the four
// built-in dialects, and a fresh token estimator.
func New(resolver credential.Resolver) *Gateway {
	return &Gateway{
		providers:  NewDefaultProviderRegistry(),
		credential: resolver,
		tokens:     NewTokenEstimator(),
		dialects: map[APIType]Dialect{
			APITypeAnthropic:        anthropicDialect{},
			APITypeOpenAICompatible: openAIDialect{},
			APITypeGoogle:           googleDialect{},
			APITypeOllama:           ollamaDialect{},
		},
	}
}

// Providers exposes the registry so a deployment can add ProviderDefinitions
// beyond the static seed catalog (spec.md §3).
func (g *Gateway) Providers() *ProviderRegistry {
	return g.providers
}

// EstimateInputTokens estimates req's prompt token count for governance's
// budget preflight, per spec.md §4.C: "used for budget preflight, not for
// billing".
func (g *Gateway) EstimateInputTokens(req Request) int {
	total := g.tokens.EstimateText(req.Model.ModelID, req.SystemPrompt)
	total += g.tokens.EstimateMessages(req.Model.ModelID, req.Messages)
	return total
}

// Execute runs one LLM call: it resolves req.Model.ProviderID, builds the
// dialect-specific request, attaches the retry-event-wired HTTP client,
// fans emitted StreamEvents to emit as the response streams, and returns
// the finalization record. Cancelling ctx aborts the call at any
// suspension point: connecting, backoff sleep, or stream read (spec.md §5).
func (g *Gateway) Execute(ctx context.Context, req Request, emit func(streamevent.Event)) (FinalResponse, error) {
	provider, ok := g.providers.Get(req.Model.ProviderID)
	if !ok {
		return FinalResponse{}, fmt.Errorf("llmgateway: unknown provider %q", req.Model.ProviderID)
	}
	dialect, ok := g.dialects[provider.APIType]
	if !ok {
		return FinalResponse{}, fmt.Errorf("llmgateway: no dialect registered for api type %q", provider.APIType)
	}

	method, path, extraHeaders, body, err := dialect.BuildRequest(provider, req)
	if err != nil {
		return FinalResponse{}, err
	}

	url, err := g.authenticatedURL(ctx, provider, path)
	if err != nil {
		return FinalResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return FinalResponse{}, fmt.Errorf("llmgateway: build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	for k, v := range extraHeaders {
		httpReq.Header.Set(k, v)
	}
	if err := g.attachAuth(ctx, provider, httpReq); err != nil {
		return FinalResponse{}, err
	}

	client := g.retryClient(provider, req, emit)
	resp, err := client.Do(httpReq)
	if err != nil {
		return FinalResponse{}, fmt.Errorf("llmgateway: call %s: %w", provider.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return FinalResponse{}, fmt.Errorf("llmgateway: %s returned status %d: %s", provider.ID, resp.StatusCode, string(b))
	}

	final, err := dialect.ParseStream(ctx, req.SessionID, resp.Body, emit)
	if err != nil {
		return FinalResponse{}, err
	}

	if final.Usage.InputTokens == 0 {
		final.Usage.InputTokens = g.EstimateInputTokens(req)
	}
	emit(streamevent.NewStepEnd(req.SessionID, final.StopReason, final.Usage, nil))
	return final, nil
}

// retryClient builds a fresh httpclient.Client for one call, honoring the
// session's RetryPolicy overrides, wiring OnRetry to fan a `retry`
// StreamEvent per attempt, and wiring provider's dialect-specific
// Retry-After/rate-limit header parser into the backoff calculation so a
// server-requested delay is honored rather than just the exponential
// default (spec.md §4.C).
func (g *Gateway) retryClient(provider ProviderDefinition, req Request, emit func(streamevent.Event)) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithOnRetry(func(attempt int, delay time.Duration, reason string) {
			emit(streamevent.NewRetry(req.SessionID, attempt, delay, reason))
		}),
	}
	if parser := headerParserFor(provider.APIType); parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	if g.httpClient != nil {
		opts = append(opts, httpclient.WithHTTPClient(g.httpClient))
	}

	rp := req.RetryPolicy
	if rp.BaseDelay > 0 {
		opts = append(opts, httpclient.WithBaseDelay(rp.BaseDelay))
	}
	if rp.MaxDelay > 0 {
		opts = append(opts, httpclient.WithMaxDelay(rp.MaxDelay))
	}
	if rp.OverallWindow > 0 {
		opts = append(opts, httpclient.WithOverallWindow(rp.OverallWindow))
	}
	if rp.MaxAttempts > 0 {
		opts = append(opts, httpclient.WithMaxAttempts(rp.MaxAttempts))
	}

	return httpclient.New(opts...)
}

// headerParserFor returns the httpclient.HeaderParser that understands
// apiType's rate-limit header dialect, or nil if that dialect doesn't
// expose any (Ollama runs locally and sets none).
func headerParserFor(apiType APIType) httpclient.HeaderParser {
	switch apiType {
	case APITypeAnthropic:
		return httpclient.ParseAnthropicHeaders
	case APITypeOpenAICompatible:
		return httpclient.ParseOpenAIHeaders
	case APITypeGoogle:
		return httpclient.ParseGeminiHeaders
	default:
		return nil
	}
}

func (g *Gateway) authenticatedURL(ctx context.Context, provider ProviderDefinition, path string) (string, error) {
	base := strings.TrimSuffix(provider.BaseURL, "/")
	url := base + path

	if provider.AuthHeaderShape != AuthQueryParam {
		return url, nil
	}
	secret, err := g.resolveCredential(ctx, provider)
	if err != nil {
		return "", err
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return url + sep + "key=" + secret, nil
}

func (g *Gateway) attachAuth(ctx context.Context, provider ProviderDefinition, req *http.Request) error {
	switch provider.AuthHeaderShape {
	case AuthNone, AuthQueryParam:
		return nil
	case AuthBearer:
		secret, err := g.resolveCredential(ctx, provider)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+secret)
		return nil
	case AuthAPIKeyHdr:
		secret, err := g.resolveCredential(ctx, provider)
		if err != nil {
			return err
		}
		req.Header.Set("x-api-key", secret)
		return nil
	default:
		return fmt.Errorf("llmgateway: unknown auth header shape %q for provider %q", provider.AuthHeaderShape, provider.ID)
	}
}

func (g *Gateway) resolveCredential(ctx context.Context, provider ProviderDefinition) (string, error) {
	if provider.CredentialRef == "" {
		return "", fmt.Errorf("llmgateway: provider %q requires a credential but has no CredentialRef", provider.ID)
	}
	if g.credential == nil {
		return "", fmt.Errorf("llmgateway: no credential resolver configured")
	}
	return g.credential.Resolve(ctx, provider.CredentialRef)
}
