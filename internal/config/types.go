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

// Package config is the Agent Runtime Core's process configuration: a
// typed Config struct populated from environment variables (optionally
// loaded from a .env file), plus a PolicyDocument loaded from YAML and
// hot-reloaded via fsnotify without a process restart. Both mirror the
// teacher's two-tier approach (pkg/config for the declarative agent/service
// shape, pkg/config/provider for file-backed sourcing with change
// notification) adapted onto this runtime's own vocabulary.
package config

import "time"

// Config is the typed process configuration, populated by Load from
// environment variables per the `env`/`default` struct tags below.
type Config struct {
	// HTTPAddr is the address internal/httpapi listens on.
	HTTPAddr string `env:"AGENTCORE_HTTP_ADDR" default:":8080"`

	// CredentialEnvPrefix is the prefix credential.EnvResolver looks
	// credential references up under.
	CredentialEnvPrefix string `env:"AGENTCORE_CREDENTIAL_PREFIX" default:"AGENTCORE_CRED_"`

	// JWTIssuer/JWTSigningKey configure credential.JWTSource when the
	// backing vault issues per-agent identity as a JWT. Empty JWTSigningKey
	// disables JWT-shaped credentials and bearer-auth on internal/httpapi.
	JWTIssuer     string `env:"AGENTCORE_JWT_ISSUER" default:"agentcore"`
	JWTSigningKey string `env:"AGENTCORE_JWT_SIGNING_KEY"`

	// Supervisor tuning (pkg/supervisor.Config).
	StaleThreshold time.Duration `env:"AGENTCORE_STALE_THRESHOLD" default:"60s"`
	SweepInterval  time.Duration `env:"AGENTCORE_SWEEP_INTERVAL"`

	// Tracing (pkg/observability.TracingConfig).
	TracingEnabled  bool    `env:"AGENTCORE_TRACING_ENABLED" default:"false"`
	TracingExporter string  `env:"AGENTCORE_TRACING_EXPORTER" default:"stdout"`
	TracingEndpoint string  `env:"AGENTCORE_TRACING_ENDPOINT" default:"localhost:4317"`
	TracingSampling float64 `env:"AGENTCORE_TRACING_SAMPLING_RATE" default:"1.0"`

	// Metrics (pkg/observability.MetricsConfig).
	MetricsEnabled bool `env:"AGENTCORE_METRICS_ENABLED" default:"true"`

	// PolicyPath, when non-empty, points Load's caller at a YAML
	// PolicyDocument (guardrail rules, permission profiles, provider
	// registry entries) to load via LoadPolicyDocument and watch via
	// WatchPolicyDocument.
	PolicyPath string `env:"AGENTCORE_POLICY_PATH"`

	// DotEnvPath is read from AGENTCORE_DOTENV_PATH but is not consulted by
	// Load or LoadDotEnv: the explicit .env path is Load's own argument, and
	// the default search order is described on LoadDotEnv (env.go).
	DotEnvPath string `env:"AGENTCORE_DOTENV_PATH"`
}
