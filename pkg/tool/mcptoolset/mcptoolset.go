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

// Package mcptoolset is a skill adapter: it resolves the tools an MCP
// (Model Context Protocol) server exposes into the Tool Executor's uniform
// tool.Handler interface, per spec.md §4.D's "skill adapters resolve
// external capabilities into the same Handler shape the built-ins use, so
// the policy gates and journal treat them identically".
//
// Connection is lazy: the MCP handshake and tools/list call only happen
// the first time Discover is called. Two transports are supported, mirroring
// the teacher's toolset: stdio subprocesses via mark3labs/mcp-go, and
// HTTP/SSE servers via this module's own retrying pkg/httpclient.
package mcptoolset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agenticmail/agentcore/pkg/httpclient"
	"github.com/agenticmail/agentcore/pkg/tool"
)

// DefaultSSEResponseTimeout bounds how long an HTTP-transport call waits
// for a streamed response before giving up.
const DefaultSSEResponseTimeout = 5 * time.Minute

// Config configures one MCP server connection.
type Config struct {
	// Name identifies this server for logging; each discovered tool is
	// additionally namespaced with it to avoid collisions across servers.
	Name string

	// URL is the MCP server URL (sse, streamable-http transports).
	URL string
	// Transport selects sse, streamable-http, or stdio. Inferred from
	// Command/URL when empty.
	Transport string

	// Command, Args, Env configure a stdio subprocess transport.
	Command string
	Args    []string
	Env     map[string]string

	// Filter limits which server-advertised tools are exposed, by name.
	// Empty means every tool the server lists is exposed.
	Filter []string

	// RiskLevel and SideEffects are applied to every tool this server
	// exposes, since MCP gives no standard way for a server to self-declare
	// risk; the policy gates need a conservative default to enforce. A
	// deployment that trusts a specific server more can override per name
	// by wrapping the discovered Handlers.
	RiskLevel   tool.RiskLevel
	SideEffects []tool.SideEffect

	MaxRetries int
	SSETimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.SSETimeout == 0 {
		c.SSETimeout = DefaultSSEResponseTimeout
	}
	if c.SideEffects == nil {
		c.SideEffects = []tool.SideEffect{tool.SideEffectExternalAPI}
	}
	return c
}

// Toolset holds one lazily-connected MCP server.
type Toolset struct {
	cfg Config

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	handlers   []tool.Handler
	connected  bool
	filterSet  map[string]bool
}

// New validates cfg and returns an unconnected Toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcptoolset: either url or command is required")
	}
	cfg = cfg.withDefaults()

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}
	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

// Discover connects (if not already connected) and returns the server's
// tools as registry-ready tool.Handlers.
func (t *Toolset) Discover(ctx context.Context) ([]tool.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("mcptoolset: connect to %q: %w", t.cfg.Name, err)
		}
	}
	return t.handlers, nil
}

// Close tears down the underlying connection. Safe to call on an
// never-connected Toolset.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	t.handlers = nil
	if t.stdio != nil {
		err := t.stdio.Close()
		t.stdio = nil
		return err
	}
	t.httpClient = nil
	return nil
}

func (t *Toolset) connect(ctx context.Context) error {
	if t.cfg.Command != "" || t.cfg.Transport == "stdio" {
		return t.connectStdio(ctx)
	}
	return t.connectHTTP(ctx)
}

func (t *Toolset) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, convertEnv(t.cfg.Env), t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create mcp client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize mcp: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var handlers []tool.Handler
	for _, mcpTool := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mcpTool.Name] {
			continue
		}
		handlers = append(handlers, &mcpHandler{
			toolset: t,
			name:    mcpTool.Name,
			desc:    mcpTool.Description,
			schema:  convertSchema(mcpTool.InputSchema),
			stdio:   true,
		})
	}

	t.stdio = mcpClient
	t.handlers = handlers
	t.connected = true
	slog.Info("mcptoolset: connected", "name", t.cfg.Name, "transport", "stdio", "tools", len(handlers))
	return nil
}

func (t *Toolset) connectHTTP(ctx context.Context) error {
	t.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxAttempts(t.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := t.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "agentcore", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize mcp: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("mcp init error: %s", initResp.Error.Message)
	}

	listResp, err := t.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("mcp list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result shape from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var handlers []tool.Handler
	for _, raw := range toolsList {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" || (t.filterSet != nil && !t.filterSet[name]) {
			continue
		}
		desc, _ := m["description"].(string)
		schema, _ := m["inputSchema"].(map[string]any)
		handlers = append(handlers, &mcpHandler{toolset: t, name: name, desc: desc, schema: schema})
	}

	t.handlers = handlers
	t.connected = true
	slog.Info("mcptoolset: connected", "name", t.cfg.Name, "transport", "http", "tools", len(handlers))
	return nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
}

func (t *Toolset) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body, t.cfg.SSETimeout)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// readSSEResponse pulls the first "data:" event off an SSE stream and
// decodes it as a JSON-RPC response, bounded by timeout since an MCP
// server can otherwise hold the connection open indefinitely.
func readSSEResponse(body io.Reader, timeout time.Duration) (*rpcResponse, error) {
	resultCh := make(chan *rpcResponse, 1)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var out rpcResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &out); err != nil {
				errCh <- fmt.Errorf("decode sse event: %w", err)
				return
			}
			resultCh <- &out
			return
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fmt.Errorf("sse stream closed without a data event")
	}()

	select {
	case resp := <-resultCh:
		return resp, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for sse response")
	}
}

func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// mcpHandler adapts one MCP server tool to tool.Handler.
type mcpHandler struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
	stdio   bool
}

func (h *mcpHandler) Name() string              { return h.name }
func (h *mcpHandler) Description() string       { return h.desc }
func (h *mcpHandler) Schema() map[string]any    { return h.schema }
func (h *mcpHandler) RiskLevel() tool.RiskLevel  { return h.toolset.cfg.RiskLevel }
func (h *mcpHandler) SideEffects() []tool.SideEffect {
	return h.toolset.cfg.SideEffects
}

// Mutates is conservatively true: an MCP server gives no standard
// declaration of idempotency, so concurrent calls to the same tool within
// a session serialize rather than risk racing a stateful server.
func (h *mcpHandler) Mutates() bool { return true }

func (h *mcpHandler) Call(ctx context.Context, _ tool.ExecutionContext, args map[string]any) (map[string]any, error) {
	if h.stdio {
		return h.callStdio(ctx, args)
	}
	return h.callHTTP(ctx, args)
}

func (h *mcpHandler) callStdio(ctx context.Context, args map[string]any) (map[string]any, error) {
	h.toolset.mu.Lock()
	mcpClient := h.toolset.stdio
	h.toolset.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("mcptoolset: %q not connected", h.toolset.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = h.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call: %w", err)
	}
	return parseToolResult(resp)
}

func parseToolResult(resp *mcp.CallToolResult) (map[string]any, error) {
	out := make(map[string]any)
	if resp.IsError {
		for _, content := range resp.Content {
			if text, ok := content.(mcp.TextContent); ok {
				out["error"] = text.Text
				break
			}
		}
		if out["error"] == nil {
			out["error"] = "unknown mcp tool error"
		}
		return out, nil
	}

	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		out["result"] = texts[0]
	default:
		out["results"] = texts
	}
	return out, nil
}

func (h *mcpHandler) callHTTP(ctx context.Context, args map[string]any) (map[string]any, error) {
	resp, err := h.toolset.rpc(ctx, "tools/call", map[string]any{"name": h.name, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("mcp call: %w", err)
	}
	if resp.Error != nil {
		return map[string]any{"error": resp.Error.Message}, nil
	}

	out := make(map[string]any)
	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		out["result"] = resp.Result
		return out, nil
	}

	if isErr, _ := resultMap["isError"].(bool); isErr {
		out["error"] = firstText(resultMap)
		if out["error"] == "" {
			out["error"] = "unknown mcp tool error"
		}
		return out, nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok || cm["type"] != "text" {
				continue
			}
			if text, ok := cm["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		out["result"] = texts[0]
	default:
		out["results"] = texts
	}
	return out, nil
}

func firstText(resultMap map[string]any) string {
	content, ok := resultMap["content"].([]any)
	if !ok {
		return ""
	}
	for _, c := range content {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := cm["text"].(string); ok {
			return text
		}
	}
	return ""
}

// RegisterInto connects ts (if not already connected) and registers every
// tool it discovers into registry, namespacing each name with cfg.Name to
// avoid collisions when a deployment wires more than one MCP server.
func RegisterInto(ctx context.Context, registry *tool.Registry, ts *Toolset) error {
	handlers, err := ts.Discover(ctx)
	if err != nil {
		return err
	}
	for _, h := range handlers {
		name := ts.cfg.Name + "." + h.Name()
		if err := registry.Register(name, &namedHandler{Handler: h, name: name}); err != nil {
			return fmt.Errorf("mcptoolset: register %q: %w", name, err)
		}
	}
	return nil
}

// namedHandler overrides Name() so a registry lookup by the namespaced key
// matches what the handler itself reports to the LLM.
type namedHandler struct {
	tool.Handler
	name string
}

func (h *namedHandler) Name() string { return h.name }

var _ tool.Handler = (*mcpHandler)(nil)
var _ tool.Handler = (*namedHandler)(nil)
