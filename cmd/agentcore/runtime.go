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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/agenticmail/agentcore/internal/config"
	"github.com/agenticmail/agentcore/internal/httpapi"
	"github.com/agenticmail/agentcore/pkg/clock"
	"github.com/agenticmail/agentcore/pkg/credential"
	"github.com/agenticmail/agentcore/pkg/governance"
	"github.com/agenticmail/agentcore/pkg/llmgateway"
	"github.com/agenticmail/agentcore/pkg/observability"
	"github.com/agenticmail/agentcore/pkg/reasoning"
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
	"github.com/agenticmail/agentcore/pkg/supervisor"
	"github.com/agenticmail/agentcore/pkg/tool"
	"github.com/agenticmail/agentcore/pkg/tool/builtin"
	"github.com/agenticmail/agentcore/pkg/tool/mcptoolset"
	"github.com/agenticmail/agentcore/pkg/tool/plugintoolset"
)

// registerBuiltinTools seeds a Registry with the filesystem/HTTP tools the
// runtime bundles by default. A deployment typically registers more
// (agent-specific function tools, MCP/plugin skill adapters) on top of
// these before serving any session.
func registerBuiltinTools(registry *tool.Registry) error {
	readFile := builtin.NewReadFile(builtin.ReadFileConfig{})
	if err := registry.Register(readFile.Name(), readFile); err != nil {
		return fmt.Errorf("agentcore: register read_file: %w", err)
	}
	webRequest := builtin.NewWebRequest(builtin.WebRequestConfig{})
	if err := registry.Register(webRequest.Name(), webRequest); err != nil {
		return fmt.Errorf("agentcore: register web_request: %w", err)
	}
	return nil
}

// runtime bundles every collaborator a CLI command needs. It is built once
// by buildRuntime and torn down at the end of ServeCmd.Run.
type runtime struct {
	cfg    *config.Config
	store  session.Store
	sup    *supervisor.Supervisor
	hub    *streamevent.Hub
	server *httpapi.Server
	obs    *observability.Manager
	policy *config.PolicyWatcher
	log    *slog.Logger
	auth   *credential.JWTSource

	skillAdapters []io.Closer
}

// registerSkillAdapters connects every MCP server and tool plugin a policy
// document names and registers their discovered tools into registry,
// returning the connected adapters so the caller can close them on
// shutdown. A server or plugin that fails to connect is a startup error,
// not a silently-skipped extra — an operator who configured one expects
// its tools to be available.
func registerSkillAdapters(ctx context.Context, registry *tool.Registry, policy *config.CompiledPolicy) ([]io.Closer, error) {
	if policy == nil {
		return nil, nil
	}
	var adapters []io.Closer
	for _, serverCfg := range policy.MCPServers {
		ts, err := mcptoolset.New(serverCfg)
		if err != nil {
			return adapters, fmt.Errorf("agentcore: configure mcp server %q: %w", serverCfg.Name, err)
		}
		if err := mcptoolset.RegisterInto(ctx, registry, ts); err != nil {
			return adapters, err
		}
		adapters = append(adapters, ts)
	}
	for _, pluginCfg := range policy.Plugins {
		ts := plugintoolset.New(pluginCfg)
		if err := plugintoolset.RegisterInto(ctx, registry, ts); err != nil {
			return adapters, err
		}
		adapters = append(adapters, ts)
	}
	return adapters, nil
}

// buildRuntime wires a complete Agent Runtime Core from a typed Config: the
// in-memory Session Store, the Governance Layer's preflight checks, the LLM
// Gateway (seeded with the default provider catalog plus any extras a
// policy document registers), the Tool Executor over a registry a real
// deployment would populate with its own tool.Handlers, the Reasoning Loop
// tying them together, and the Session Supervisor driving it all. It mirrors
// the teacher's cmd/hector/main.go ServeCmd.Run wiring order: logger, then
// config, then storage, then runtime, then server.
func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtime, error) {
	clk := clock.Real{}
	store := session.NewMemoryStore()
	hub := streamevent.NewHub(log)

	var policyWatcher *config.PolicyWatcher
	var extraProviders []llmgateway.ProviderDefinition
	var guardrailRules []governance.GuardrailRule
	if cfg.PolicyPath != "" {
		w, err := config.WatchPolicyDocument(ctx, cfg.PolicyPath, log)
		if err != nil {
			return nil, fmt.Errorf("agentcore: load policy document: %w", err)
		}
		policyWatcher = w
		extraProviders = w.Current().Providers
		guardrailRules = w.Current().GuardrailRules
	}

	credentials := credential.Chain{credential.EnvResolver{Prefix: cfg.CredentialEnvPrefix}}

	var auth *credential.JWTSource
	if cfg.JWTSigningKey != "" {
		auth = &credential.JWTSource{Key: []byte(cfg.JWTSigningKey), Issuer: cfg.JWTIssuer}
	}

	gateway := llmgateway.New(credentials)
	for _, p := range extraProviders {
		if err := gateway.Providers().Register(p.ID, p); err != nil {
			return nil, fmt.Errorf("agentcore: register provider %q: %w", p.ID, err)
		}
	}

	registry := tool.NewRegistry()
	if err := registerBuiltinTools(registry); err != nil {
		return nil, err
	}
	var compiledPolicy *config.CompiledPolicy
	if policyWatcher != nil {
		compiledPolicy = policyWatcher.Current()
	}
	skillAdapters, err := registerSkillAdapters(ctx, registry, compiledPolicy)
	if err != nil {
		return nil, err
	}

	rateLimit := governance.NewRateLimiter(governance.RateLimitConfig{}, governance.NewMemoryRateLimitStore(), clk)
	breakers := governance.NewCircuitBreakers(governance.BreakerConfig{}, clk)
	approvals := governance.NewApprovals()
	journal := governance.NewJournal(governance.NewMemoryJournalStore())
	executor := tool.NewExecutor(registry, tool.Config{}, clk, rateLimit, breakers, approvals, journal)

	budgets := governance.NewBudgets(governance.NewMemoryBudgetStore(), nil)
	guardrails := governance.NewGuardrails(guardrailRules)

	obsCfg := &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:      cfg.TracingEnabled,
			Exporter:     cfg.TracingExporter,
			Endpoint:     cfg.TracingEndpoint,
			SamplingRate: cfg.TracingSampling,
			ServiceName:  "agentcore",
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.MetricsEnabled},
	}
	obs, err := observability.NewManager(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("agentcore: init observability: %w", err)
	}

	loop := reasoning.NewLoop(store, gateway, registry, executor, budgets, rateLimit, breakers, guardrails,
		hub, credentials, clk, reasoning.Config{}, obs.Tracer(), obs.Metrics())

	sup := supervisor.New(store, loop, hub, clk, log, supervisor.Config{
		StaleThreshold: cfg.StaleThreshold,
		SweepInterval:  cfg.SweepInterval,
	})

	srv := httpapi.New(sup, store, hub, httpapi.Config{Addr: cfg.HTTPAddr, Auth: auth}, log, obs.Metrics())

	return &runtime{
		cfg: cfg, store: store, sup: sup, hub: hub, server: srv,
		obs: obs, policy: policyWatcher, log: log, auth: auth,
		skillAdapters: skillAdapters,
	}, nil
}

// closeSkillAdapters tears down every connected MCP server and tool
// plugin, logging (not failing) a close error since shutdown should not
// abort partway through on one misbehaving adapter.
func (rt *runtime) closeSkillAdapters() {
	for _, a := range rt.skillAdapters {
		if err := a.Close(); err != nil {
			rt.log.Warn("agentcore: close skill adapter", "error", err)
		}
	}
}
