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

// Package plugintoolset is a skill adapter: it loads out-of-process tool
// plugins as subprocesses via hashicorp/go-plugin and resolves their
// declared tools into the Tool Executor's uniform tool.Handler interface,
// per spec.md §4.D. It is grounded on the teacher's plugins/grpc loader
// (handshake config, plugin.ClientConfig, Dispense, Kill), with one
// substitution: the teacher's LLM/Database/Embedder plugins exchange
// protobuf-generated messages over gRPC, but a tool plugin's argument and
// result payloads are already the map[string]any tool.Handler.Call
// exchanges, so there is no IDL to generate code from. This package uses
// go-plugin's net/rpc transport (gob-encoded, no codegen step) instead.
package plugintoolset

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/agenticmail/agentcore/pkg/tool"
)

// Handshake is the magic-cookie handshake a plugin binary must echo before
// the host will dispense it, guarding against accidentally exec'ing an
// unrelated program.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "AGENTCORE_PLUGIN",
	MagicCookieValue: "agentcore_tool_plugin_v1",
}

const pluginKey = "tool"

// Descriptor is how a plugin declares one tool over the wire.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	RiskLevel   tool.RiskLevel
	SideEffects []tool.SideEffect
	Mutates     bool
}

// CallRequest/CallResponse are the net/rpc argument and reply types for a
// tool invocation. Error is carried as a string field, not a returned
// error, because the RPC succeeded even when the tool itself failed.
type CallRequest struct {
	Name string
	Args map[string]any
}

type CallResponse struct {
	Result map[string]any
	Error  string
}

// Provider is what a plugin binary implements.
type Provider interface {
	ListTools() ([]Descriptor, error)
	CallTool(req CallRequest) (CallResponse, error)
}

// ProviderPlugin adapts a Provider to go-plugin's net/rpc Plugin
// interface. A plugin binary sets Impl and calls plugin.Serve; the host
// leaves Impl nil and only uses Client.
type ProviderPlugin struct {
	Impl Provider
}

func (p *ProviderPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *ProviderPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

type rpcServer struct{ impl Provider }

func (s *rpcServer) ListTools(_ any, resp *[]Descriptor) error {
	tools, err := s.impl.ListTools()
	*resp = tools
	return err
}

func (s *rpcServer) CallTool(req CallRequest, resp *CallResponse) error {
	out, err := s.impl.CallTool(req)
	*resp = out
	return err
}

type rpcClient struct{ client *rpc.Client }

func (c *rpcClient) ListTools() ([]Descriptor, error) {
	var resp []Descriptor
	err := c.client.Call("Plugin.ListTools", new(any), &resp)
	return resp, err
}

func (c *rpcClient) CallTool(req CallRequest) (CallResponse, error) {
	var resp CallResponse
	err := c.client.Call("Plugin.CallTool", req, &resp)
	return resp, err
}

// Config configures one plugin subprocess.
type Config struct {
	// Name identifies this plugin for logging and tool-name namespacing.
	Name string
	// Command is the plugin binary's path.
	Command string
	Args    []string
	Env     []string

	// MaxRiskLevel caps the RiskLevel every tool this plugin declares
	// reports: a higher self-reported level is lowered to it, and zero
	// leaves self-reported levels as they are. SideEffects and Mutates are
	// always taken from the plugin's own declaration.
	MaxRiskLevel tool.RiskLevel
}

// Toolset holds one lazily-started plugin subprocess.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *plugin.Client
	provider  Provider
	handlers  []tool.Handler
	connected bool
}

// New returns an unstarted Toolset for cfg.
func New(cfg Config) *Toolset {
	return &Toolset{cfg: cfg}
}

// Discover starts the plugin subprocess (if not already started) and
// returns its declared tools as registry-ready tool.Handlers.
func (t *Toolset) Discover(ctx context.Context) ([]tool.Handler, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.start(ctx); err != nil {
			return nil, fmt.Errorf("plugintoolset: start %q: %w", t.cfg.Name, err)
		}
	}
	return t.handlers, nil
}

// Close kills the plugin subprocess. Safe to call on a never-started
// Toolset.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Kill()
		t.client = nil
	}
	t.connected = false
	t.handlers = nil
	return nil
}

func (t *Toolset) start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Env = t.cfg.Env

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          map[string]plugin.Plugin{pluginKey: &ProviderPlugin{}},
		Cmd:              cmd,
		Logger:           hclog.New(&hclog.LoggerOptions{Name: "agentcore-plugin:" + t.cfg.Name, Level: hclog.Warn}),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("rpc handshake: %w", err)
	}
	raw, err := rpcClient.Dispense(pluginKey)
	if err != nil {
		client.Kill()
		return fmt.Errorf("dispense plugin: %w", err)
	}
	provider, ok := raw.(Provider)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin does not implement Provider")
	}

	descriptors, err := provider.ListTools()
	if err != nil {
		client.Kill()
		return fmt.Errorf("list tools: %w", err)
	}

	handlers := make([]tool.Handler, 0, len(descriptors))
	for _, d := range descriptors {
		handlers = append(handlers, &pluginHandler{toolset: t, desc: d})
	}

	t.client = client
	t.provider = provider
	t.handlers = handlers
	t.connected = true
	return nil
}

// pluginHandler adapts one plugin-declared tool to tool.Handler.
type pluginHandler struct {
	toolset *Toolset
	desc    Descriptor
}

func (h *pluginHandler) Name() string           { return h.desc.Name }
func (h *pluginHandler) Description() string    { return h.desc.Description }
func (h *pluginHandler) Schema() map[string]any { return h.desc.Schema }

func (h *pluginHandler) RiskLevel() tool.RiskLevel {
	if h.toolset.cfg.MaxRiskLevel != 0 && h.desc.RiskLevel > h.toolset.cfg.MaxRiskLevel {
		return h.toolset.cfg.MaxRiskLevel
	}
	return h.desc.RiskLevel
}

func (h *pluginHandler) SideEffects() []tool.SideEffect { return h.desc.SideEffects }
func (h *pluginHandler) Mutates() bool                  { return h.desc.Mutates }

func (h *pluginHandler) Call(_ context.Context, _ tool.ExecutionContext, args map[string]any) (map[string]any, error) {
	h.toolset.mu.Lock()
	provider := h.toolset.provider
	h.toolset.mu.Unlock()
	if provider == nil {
		return nil, fmt.Errorf("plugintoolset: %q not started", h.toolset.cfg.Name)
	}

	resp, err := provider.CallTool(CallRequest{Name: h.desc.Name, Args: args})
	if err != nil {
		return nil, fmt.Errorf("plugin call: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("plugin tool error: %s", resp.Error)
	}
	return resp.Result, nil
}

// RegisterInto starts ts (if not already started) and registers every
// tool it declares into registry, namespaced with ts's configured name.
func RegisterInto(ctx context.Context, registry *tool.Registry, ts *Toolset) error {
	handlers, err := ts.Discover(ctx)
	if err != nil {
		return err
	}
	for _, h := range handlers {
		name := ts.cfg.Name + "." + h.Name()
		if err := registry.Register(name, &namedHandler{Handler: h, name: name}); err != nil {
			return fmt.Errorf("plugintoolset: register %q: %w", name, err)
		}
	}
	return nil
}

type namedHandler struct {
	tool.Handler
	name string
}

func (h *namedHandler) Name() string { return h.name }

var _ tool.Handler = (*pluginHandler)(nil)
var _ tool.Handler = (*namedHandler)(nil)
var _ plugin.Plugin = (*ProviderPlugin)(nil)
