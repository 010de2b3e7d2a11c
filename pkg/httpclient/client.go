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

// Package httpclient provides the HTTP transport shared by every LLM
// Gateway dialect: retry with exponential backoff and jitter, Retry-After
// honoring, an overall retry window and hard attempt cap, and a hook for
// emitting a StreamEvent per retry attempt.
//
// Features:
//   - Automatic retry with exponential backoff, capped by an overall window
//     and a hard attempt count, per spec.md §4.C
//   - Rate limit header parsing (Anthropic, OpenAI)
//   - Retryable-status classification (408/425/429/500/502/503/504)
//   - Request body replay for retries
package httpclient

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/agenticmail/agentcore/pkg/clock"
)

// RetryStrategy defines how to handle retries.
type RetryStrategy int

const (
	// NoRetry indicates no retry should be attempted.
	NoRetry RetryStrategy = iota

	// SmartRetry uses rate limit headers and exponential backoff with jitter.
	SmartRetry
)

// RateLimitInfo contains rate limit information from response headers.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	InputTokensRemaining  int
	OutputTokensRemaining int
	TokensRemaining       int
}

// HeaderParser extracts rate limit info from response headers.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc determines the retry strategy based on status code.
type StrategyFunc func(int) RetryStrategy

// OnRetry is called once per retry attempt, before the backoff sleep, so
// the LLM Gateway can fan out a `retry` StreamEvent (spec.md §4.C).
type OnRetry func(attempt int, delay time.Duration, reason string)

// Client wraps http.Client with retry and backoff capabilities.
type Client struct {
	client        *http.Client
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	overallWindow time.Duration
	headerParser  HeaderParser
	strategyFunc  StrategyFunc
	onRetry       OnRetry
	clk           clock.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
//
// IMPORTANT: Order matters when using with WithTLSConfig:
//
//   - ✅ CORRECT: Call WithHTTPClient FIRST, then WithTLSConfig
//     Example:
//     httpclient.New(
//     httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
//     httpclient.WithTLSConfig(&httpclient.TLSConfig{CACertificate: "/path/to/ca.pem"}),
//     )
//
//   - ❌ WRONG: Calling WithTLSConfig before WithHTTPClient will lose TLS configuration
//
//   - ✅ BEST: For custom transport settings, configure TLS on the transport first:
//     Example:
//     tlsTransport, _ := httpclient.ConfigureTLS(&httpclient.TLSConfig{CACertificate: "/path/to/ca.pem"})
//     tlsTransport.MaxIdleConns = 100  // Custom settings
//     httpclient.New(
//     httpclient.WithHTTPClient(&http.Client{Transport: tlsTransport, Timeout: 30 * time.Second}),
//     )
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		// If TLS transport was already configured, try to preserve it
		if c.client != nil && c.client.Transport != nil {
			if existingTransport, ok := c.client.Transport.(*http.Transport); ok {
				if existingTransport.TLSClientConfig != nil {
					// TLS was configured, merge it into the new client's transport
					if client.Transport == nil {
						// New client has no transport, create one with TLS config
						client.Transport = &http.Transport{
							TLSClientConfig: &tls.Config{},
						}
					}
					if newTransport, ok := client.Transport.(*http.Transport); ok {
						// Copy TLS configuration from existing transport
						if newTransport.TLSClientConfig == nil {
							newTransport.TLSClientConfig = &tls.Config{}
						}
						newTransport.TLSClientConfig.RootCAs = existingTransport.TLSClientConfig.RootCAs
						newTransport.TLSClientConfig.InsecureSkipVerify = existingTransport.TLSClientConfig.InsecureSkipVerify
						slog.Debug("Preserved TLS configuration when setting custom HTTP client")
					}
				}
			}
		}
		c.client = client
	}
}

// WithMaxAttempts sets the hard cap on total attempts for one logical call
// (default 200, per spec.md §4.C).
func WithMaxAttempts(max int) Option {
	return func(c *Client) {
		c.maxAttempts = max
	}
}

// WithOverallWindow caps total elapsed retry time for one logical call
// (default 3600s, per spec.md §4.C). The next computed delay is shortened
// so it never overshoots the window.
func WithOverallWindow(window time.Duration) Option {
	return func(c *Client) {
		c.overallWindow = window
	}
}

// WithOnRetry registers a callback invoked once per retry attempt.
func WithOnRetry(fn OnRetry) Option {
	return func(c *Client) {
		c.onRetry = fn
	}
}

// WithClock overrides the time source used for backoff sleeps; tests use
// this to avoid real waits.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clk = clk
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

// WithHeaderParser sets a custom rate limit header parser.
func WithHeaderParser(parser HeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

// WithRetryStrategy sets a custom retry strategy function.
func WithRetryStrategy(strategyFunc StrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// TLSConfig holds TLS configuration options for outbound HTTP requests.
// This is useful for corporate networks with custom CA certificates or
// development environments with self-signed certificates.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// WARNING: Only use for development/testing. Never use in production.
	InsecureSkipVerify bool

	// CACertificate is the path to a custom CA certificate file.
	// Use this for corporate proxies or internal services with custom certificates.
	CACertificate string
}

// ConfigureTLS creates an http.Transport with TLS configuration.
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}

	if config == nil {
		return transport, nil
	}

	// Handle custom CA certificate
	if config.CACertificate != "" {
		caCert, err := os.ReadFile(config.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate from %s: %w", config.CACertificate, err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", config.CACertificate)
		}

		transport.TLSClientConfig.RootCAs = caCertPool
	}

	// Handle insecure skip verify (dev/test only)
	if config.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
		slog.Warn("TLS certificate verification disabled - NOT for production use")
	}

	return transport, nil
}

// WithTLSConfig sets TLS configuration for the HTTP client.
// This is useful for:
//   - Corporate networks with custom CA certificates
//   - Internal services with self-signed certificates
//   - Development/testing environments (with InsecureSkipVerify)
//
// NOTE: Call WithTLSConfig AFTER WithHTTPClient if both are used.
// If called before WithHTTPClient, the TLS transport will be overwritten.
func WithTLSConfig(config *TLSConfig) Option {
	return func(c *Client) {
		if config == nil {
			return
		}

		transport, err := ConfigureTLS(config)
		if err != nil {
			// Log warning but don't fail - use default transport
			slog.Warn("Failed to configure TLS", "error", err)
			return
		}

		// Update the HTTP client's transport
		// Preserve existing timeout if client already exists
		if c.client != nil {
			timeout := c.client.Timeout
			c.client.Transport = transport
			c.client.Timeout = timeout // Preserve timeout
		} else {
			// Create new client with transport and default timeout
			c.client = &http.Client{
				Transport: transport,
				Timeout:   120 * time.Second, // Default timeout matches New()
			}
		}
	}
}

// New creates a new Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		client:        &http.Client{Timeout: 120 * time.Second},
		maxAttempts:   200,
		baseDelay:     1 * time.Second,
		maxDelay:      60 * time.Second,
		overallWindow: 3600 * time.Second,
		strategyFunc:  DefaultStrategy,
		clk:           clock.Real{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DefaultStrategy classifies a status code as retryable or not, per
// spec.md §4.C: 408/425/429/500/502/503/504 are retryable; 400/401/403/404/422
// and anything else are not.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusRequestTimeout, // 408
		425, // Too Early
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return SmartRetry
	default:
		return NoRetry
	}
}

// Do executes the request with retry logic: exponential backoff with
// jitter, honoring Retry-After, bounded by an overall elapsed-time window
// and a hard attempt cap (spec.md §4.C). Cancelling req's context aborts
// immediately, including mid-backoff-sleep.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	// Ensure request body can be replayed
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(bodyBytes)), nil
		}
	}

	start := c.clk.Now()

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 && bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req)

		if strategy == NoRetry || err == nil {
			return resp, err
		}

		elapsed := c.clk.Now().Sub(start)
		remaining := c.overallWindow - elapsed
		if remaining <= 0 {
			return resp, &RetryableError{
				StatusCode: statusOf(resp),
				Message:    fmt.Sprintf("overall retry window (%s) exhausted", c.overallWindow),
				Err:        err,
			}
		}

		delay := c.calculateDelay(attempt, retryInfo)
		if delay > remaining {
			delay = remaining
		}

		reason := fmt.Sprintf("HTTP %d", statusOf(resp))
		c.logRetry(delay, attempt, resp)
		if c.onRetry != nil {
			c.onRetry(attempt+1, delay, reason)
		}

		if err := c.sleepOrCancel(req, delay); err != nil {
			return resp, err
		}
	}

	return nil, &RetryableError{
		StatusCode: 0,
		Message:    fmt.Sprintf("attempt cap (%d) exceeded", c.maxAttempts),
		Err:        fmt.Errorf("max attempts exceeded"),
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// sleepOrCancel waits for delay unless req's context is cancelled first,
// so a session cancellation aborts a pending retry backoff immediately
// (spec.md §8 boundary behavior: cancel() during retry sleep).
func (c *Client) sleepOrCancel(req *http.Request, delay time.Duration) error {
	select {
	case <-c.clk.After(delay):
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

func (c *Client) attemptRequest(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	strategy := c.strategyFunc(resp.StatusCode)
	return resp, strategy, retryInfo, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// calculateDelay computes the next backoff delay: the larger of any
// server-supplied Retry-After/reset-time and the exponential-with-jitter
// value, where only the exponential value is capped at maxDelay (spec.md
// §4.C).
func (c *Client) calculateDelay(attempt int, info RateLimitInfo) time.Duration {
	exp := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	jitter := time.Duration(rand.Float64() * float64(exp) * 0.1)
	exp = min(exp+jitter, c.maxDelay)

	delay := exp
	if info.RetryAfter > delay {
		delay = info.RetryAfter
	}
	if info.ResetTime > 0 {
		if d := time.Until(time.Unix(info.ResetTime, 0)); d > delay {
			delay = d
		}
	}
	// The exponential component is capped at maxDelay above; a larger
	// Retry-After/reset-time value is still honored here, per spec.md
	// §4.C ("taking the larger of Retry-After and the exponential
	// value") — only the overall window (applied by the caller) bounds it
	// further.
	return delay
}

func (c *Client) logRetry(delay time.Duration, attempt int, resp *http.Response) {
	statusCode := 0
	var errorDetails string
	if resp != nil {
		statusCode = resp.StatusCode
		errorDetails = extractErrorDetails(resp)
	}

	slog.Info("retrying request",
		"status", statusCode,
		"delay", delay,
		"attempt", attempt+1,
		"max", c.maxAttempts,
		"details", errorDetails)
}

func extractErrorDetails(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) == 0 {
		return ""
	}

	// Restore body for later consumption
	resp.Body = io.NopCloser(bytes.NewReader(body))

	// Try to parse as JSON error
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errorResp) == nil && errorResp.Error.Message != "" {
		return errorResp.Error.Message
	}

	// Truncate raw body
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// RetryableError represents an error that may be retried.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true.
func (e *RetryableError) IsRetryable() bool {
	return true
}
