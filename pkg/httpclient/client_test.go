package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agenticmail/agentcore/pkg/clock"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		options  []Option
		validate func(t *testing.T, client *Client)
	}{
		{
			name:    "default_configuration",
			options: []Option{},
			validate: func(t *testing.T, client *Client) {
				if client.maxAttempts != 200 {
					t.Errorf("Expected maxAttempts=200, got %d", client.maxAttempts)
				}
				if client.baseDelay != 1*time.Second {
					t.Errorf("Expected baseDelay=1s, got %v", client.baseDelay)
				}
				if client.overallWindow != 3600*time.Second {
					t.Errorf("Expected overallWindow=3600s, got %v", client.overallWindow)
				}
				if client.client.Timeout != 120*time.Second {
					t.Errorf("Expected timeout=120s, got %v", client.client.Timeout)
				}
				if client.strategyFunc == nil {
					t.Error("Expected strategyFunc to be set")
				}
			},
		},
		{
			name: "custom_max_attempts",
			options: []Option{
				WithMaxAttempts(3),
			},
			validate: func(t *testing.T, client *Client) {
				if client.maxAttempts != 3 {
					t.Errorf("Expected maxAttempts=3, got %d", client.maxAttempts)
				}
			},
		},
		{
			name: "custom_overall_window",
			options: []Option{
				WithOverallWindow(30 * time.Second),
			},
			validate: func(t *testing.T, client *Client) {
				if client.overallWindow != 30*time.Second {
					t.Errorf("Expected overallWindow=30s, got %v", client.overallWindow)
				}
			},
		},
		{
			name: "custom_base_delay",
			options: []Option{
				WithBaseDelay(5 * time.Second),
			},
			validate: func(t *testing.T, client *Client) {
				if client.baseDelay != 5*time.Second {
					t.Errorf("Expected baseDelay=5s, got %v", client.baseDelay)
				}
			},
		},
		{
			name: "custom_http_client",
			options: []Option{
				WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.client.Timeout != 30*time.Second {
					t.Errorf("Expected timeout=30s, got %v", client.client.Timeout)
				}
			},
		},
		{
			name: "custom_header_parser",
			options: []Option{
				WithHeaderParser(func(h http.Header) RateLimitInfo {
					return RateLimitInfo{RetryAfter: 10 * time.Second}
				}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.headerParser == nil {
					t.Error("Expected headerParser to be set")
				}

				headers := http.Header{}
				info := client.headerParser(headers)
				if info.RetryAfter != 10*time.Second {
					t.Errorf("Expected RetryAfter=10s, got %v", info.RetryAfter)
				}
			},
		},
		{
			name: "custom_retry_strategy",
			options: []Option{
				WithRetryStrategy(func(statusCode int) RetryStrategy {
					return SmartRetry
				}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.strategyFunc == nil {
					t.Error("Expected strategyFunc to be set")
				}

				strategy := client.strategyFunc(500)
				if strategy != SmartRetry {
					t.Errorf("Expected SmartRetry, got %v", strategy)
				}
			},
		},
		{
			name: "custom_clock",
			options: []Option{
				WithClock(clock.NewFake(time.Unix(0, 0))),
			},
			validate: func(t *testing.T, client *Client) {
				if client.clk == nil {
					t.Error("Expected clk to be set")
				}
			},
		},
		{
			name: "on_retry_callback",
			options: []Option{
				WithOnRetry(func(attempt int, delay time.Duration, reason string) {}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.onRetry == nil {
					t.Error("Expected onRetry to be set")
				}
			},
		},
		{
			name: "multiple_options",
			options: []Option{
				WithMaxAttempts(2),
				WithBaseDelay(1 * time.Second),
				WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.maxAttempts != 2 {
					t.Errorf("Expected maxAttempts=2, got %d", client.maxAttempts)
				}
				if client.baseDelay != 1*time.Second {
					t.Errorf("Expected baseDelay=1s, got %v", client.baseDelay)
				}
				if client.client.Timeout != 10*time.Second {
					t.Errorf("Expected timeout=10s, got %v", client.client.Timeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.options...)
			tt.validate(t, client)
		})
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   RetryStrategy
	}{
		{name: "rate_limit_429", statusCode: http.StatusTooManyRequests, expected: SmartRetry},
		{name: "service_unavailable_503", statusCode: http.StatusServiceUnavailable, expected: SmartRetry},
		{name: "request_timeout_408", statusCode: http.StatusRequestTimeout, expected: SmartRetry},
		{name: "too_early_425", statusCode: 425, expected: SmartRetry},
		{name: "internal_server_error_500", statusCode: http.StatusInternalServerError, expected: SmartRetry},
		{name: "bad_gateway_502", statusCode: http.StatusBadGateway, expected: SmartRetry},
		{name: "gateway_timeout_504", statusCode: http.StatusGatewayTimeout, expected: SmartRetry},
		{name: "success_200", statusCode: http.StatusOK, expected: NoRetry},
		{name: "not_found_404", statusCode: http.StatusNotFound, expected: NoRetry},
		{name: "bad_request_400", statusCode: http.StatusBadRequest, expected: NoRetry},
		{name: "unauthorized_401", statusCode: http.StatusUnauthorized, expected: NoRetry},
		{name: "forbidden_403", statusCode: http.StatusForbidden, expected: NoRetry},
		{name: "unprocessable_422", statusCode: http.StatusUnprocessableEntity, expected: NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DefaultStrategy(tt.statusCode)
			if result != tt.expected {
				t.Errorf("DefaultStrategy(%d) = %v, want %v", tt.statusCode, result, tt.expected)
			}
		})
	}
}

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if resp == nil {
		t.Fatal("Do() response = nil, want non-nil")
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Do() status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestClient_Do_NetworkError(t *testing.T) {
	client := New(WithHTTPClient(&http.Client{Timeout: 1 * time.Millisecond}))
	req, _ := http.NewRequest("GET", "http://invalid-url-that-does-not-exist:9999", nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Error("Do() error = nil, want network error")
	}
	if resp != nil {
		t.Error("Do() response should be nil for network errors")
	}
}

func TestClient_Do_RetryableError(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
		} else {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("success after retry"))
		}
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxAttempts(5),
		WithBaseDelay(5*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Do() status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
}

func TestClient_Do_MaxAttemptsExceeded(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxAttempts(3),
		WithBaseDelay(2*time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Error("Do() error = nil, want RetryableError")
	}

	retryErr, ok := err.(*RetryableError)
	if !ok {
		t.Errorf("Do() error type = %T, want *RetryableError", err)
	} else if !retryErr.IsRetryable() {
		t.Error("RetryableError.IsRetryable() should be true")
	}

	if resp != nil && resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Do() status code = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
}

func TestClient_Do_OverallWindowExhausted(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxAttempts(1000),
		WithBaseDelay(5*time.Millisecond),
		WithMaxDelay(10*time.Millisecond),
		WithOverallWindow(30*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Do() error = nil, want RetryableError from exhausted window")
	}
	if _, ok := err.(*RetryableError); !ok {
		t.Fatalf("Do() error type = %T, want *RetryableError", err)
	}
	if resp == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Do() response = %+v, want the last 500 response preserved", resp)
	}
	if attemptCount < 1 {
		t.Error("expected at least one attempt before the window was exhausted")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Do() took %v, window exhaustion should cut retries off quickly", elapsed)
	}
}

func TestClient_Do_CancelDuringBackoffSleep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxAttempts(50),
		WithBaseDelay(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest("GET", server.URL, nil)
	req = req.WithContext(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := client.Do(req)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Do() error = nil, want context.Canceled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do() did not return promptly after context cancellation")
	}
}

func TestClient_Do_RateLimitWithRetryAfter(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("success after rate limit"))
		}
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxAttempts(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Do() status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if attemptCount != 2 {
		t.Errorf("Expected 2 attempts, got %d", attemptCount)
	}
	if duration < 1*time.Second {
		t.Errorf("Expected to wait at least 1s, waited %v", duration)
	}
}

func TestClient_Do_OnRetryCallbackFires(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	var calls []string
	client := New(
		WithHTTPClient(server.Client()),
		WithMaxAttempts(3),
		WithBaseDelay(2*time.Millisecond),
		WithOnRetry(func(attempt int, delay time.Duration, reason string) {
			calls = append(calls, reason)
		}),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	_, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected onRetry to fire once, fired %d times: %v", len(calls), calls)
	}
}

func TestClient_attemptRequest(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedErr    bool
		expectedCode   int
		expectedStrat  RetryStrategy
	}{
		{
			name: "success_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			expectedErr:   false,
			expectedCode:  http.StatusOK,
			expectedStrat: NoRetry,
		},
		{
			name: "rate_limit_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			expectedErr:   true,
			expectedCode:  http.StatusTooManyRequests,
			expectedStrat: SmartRetry,
		},
		{
			name: "server_error_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectedErr:   true,
			expectedCode:  http.StatusInternalServerError,
			expectedStrat: SmartRetry,
		},
		{
			name: "client_error_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			expectedErr:   true,
			expectedCode:  http.StatusBadRequest,
			expectedStrat: NoRetry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := New(WithHTTPClient(server.Client()))
			req, _ := http.NewRequest("GET", server.URL, nil)

			resp, strategy, retryInfo, err := client.attemptRequest(req)

			if (err != nil) != tt.expectedErr {
				t.Errorf("attemptRequest() error = %v, wantErr %v", err, tt.expectedErr)
			}
			if resp.StatusCode != tt.expectedCode {
				t.Errorf("attemptRequest() status code = %d, want %d", resp.StatusCode, tt.expectedCode)
			}
			if strategy != tt.expectedStrat {
				t.Errorf("attemptRequest() strategy = %v, want %v", strategy, tt.expectedStrat)
			}

			if retryInfo.RetryAfter != 0 || retryInfo.ResetTime != 0 {
				t.Errorf("attemptRequest() retryInfo should be empty, got %+v", retryInfo)
			}
		})
	}
}

func TestClient_calculateDelay(t *testing.T) {
	client := New(WithBaseDelay(1 * time.Second))

	tests := []struct {
		name    string
		attempt int
		minExp  time.Duration
		maxExp  time.Duration
	}{
		{name: "exponential_backoff_attempt_0", attempt: 0, minExp: 1 * time.Second, maxExp: 1*time.Second + 200*time.Millisecond},
		{name: "exponential_backoff_attempt_1", attempt: 1, minExp: 2 * time.Second, maxExp: 2*time.Second + 400*time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := client.calculateDelay(tt.attempt, RateLimitInfo{})
			if result < tt.minExp || result > tt.maxExp {
				t.Errorf("calculateDelay() = %v, want between %v and %v", result, tt.minExp, tt.maxExp)
			}
		})
	}

	t.Run("retry_after_wins_even_over_maxDelay", func(t *testing.T) {
		capped := New(WithBaseDelay(1*time.Second), WithMaxDelay(5*time.Second))
		result := capped.calculateDelay(0, RateLimitInfo{RetryAfter: 120 * time.Second})
		if result != 120*time.Second {
			t.Errorf("calculateDelay() = %v, want 120s (Retry-After must not be clamped by maxDelay)", result)
		}
	})

	t.Run("reset_time_wins_when_larger_than_exponential", func(t *testing.T) {
		result := client.calculateDelay(0, RateLimitInfo{ResetTime: time.Now().Add(3 * time.Second).Unix()})
		if result < 2*time.Second || result > 4*time.Second {
			t.Errorf("calculateDelay() = %v, want approximately 3s", result)
		}
	})
}
