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

package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenticmail/agentcore/pkg/httpclient"
	"github.com/agenticmail/agentcore/pkg/tool"
)

// WebRequestConfig bounds a WebRequest tool instance.
type WebRequestConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	MaxRequestSize  int64
	MaxResponseSize int64
	UserAgent       string
}

func (c WebRequestConfig) withDefaults() WebRequestConfig {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1 << 20
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "agentcore-tool-executor/1.0"
	}
	return c
}

// WebRequest issues an HTTP request to an external endpoint. Host/CIDR
// egress enforcement is the Executor's network-sandbox gate (via
// URLArguments); WebRequest only performs the call once the gate clears.
type WebRequest struct {
	cfg WebRequestConfig
	hc  *httpclient.Client
}

func NewWebRequest(cfg WebRequestConfig) *WebRequest {
	cfg = cfg.withDefaults()
	return &WebRequest{
		cfg: cfg,
		hc: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxAttempts(cfg.MaxRetries),
		),
	}
}

func (t *WebRequest) Name() string { return "web_request" }

func (t *WebRequest) Description() string {
	return "Make an HTTP request to an external API or web service."
}

// WebRequestArgs is WebRequest's declared argument shape: its jsonschema
// tags generate Schema(), and its json tags drive decodeArgs.
type WebRequestArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=Target URL"`
	Method  string            `json:"method,omitempty" jsonschema:"default=GET"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

var webRequestSchema = generateSchema[WebRequestArgs]()

func (t *WebRequest) Schema() map[string]any { return webRequestSchema }

func (t *WebRequest) RiskLevel() tool.RiskLevel { return tool.RiskMedium }
func (t *WebRequest) SideEffects() []tool.SideEffect {
	return []tool.SideEffect{tool.SideEffectNetworkEgress, tool.SideEffectExternalAPI}
}
func (t *WebRequest) Mutates() bool          { return false }
func (t *WebRequest) URLArguments() []string { return []string{"url"} }

func (t *WebRequest) Call(_ context.Context, _ tool.ExecutionContext, rawArgs map[string]any) (map[string]any, error) {
	args, err := decodeArgs[WebRequestArgs](rawArgs)
	if err != nil {
		return nil, err
	}
	if args.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	method := "GET"
	if args.Method != "" {
		method = strings.ToUpper(args.Method)
	}
	if int64(len(args.Body)) > t.cfg.MaxRequestSize {
		return nil, fmt.Errorf("request body too large: %d bytes (max %d)", len(args.Body), t.cfg.MaxRequestSize)
	}

	var body io.Reader
	if args.Body != "" {
		body = bytes.NewReader([]byte(args.Body))
	}
	req, err := http.NewRequest(method, args.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, t.cfg.MaxResponseSize+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(respBody)) > t.cfg.MaxResponseSize {
		return nil, fmt.Errorf("response too large: exceeds %d bytes", t.cfg.MaxResponseSize)
	}

	return map[string]any{
		"success":     resp.StatusCode >= 200 && resp.StatusCode < 300,
		"status_code": resp.StatusCode,
		"content":     string(respBody),
		"url":         args.URL,
		"method":      method,
	}, nil
}

var _ tool.Handler = (*WebRequest)(nil)
var _ tool.NetworkSandboxed = (*WebRequest)(nil)
