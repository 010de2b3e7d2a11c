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

import "github.com/agenticmail/agentcore/pkg/registry"

// ProviderRegistry holds the static provider catalog plus any deployment's
// user-defined extensions, per spec.md §3.
type ProviderRegistry struct {
	*registry.BaseRegistry[ProviderDefinition]
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[ProviderDefinition]()}
}

// DefaultProviders is the static seed catalog: one well-known provider per
// wire dialect. A deployment registers additional ProviderDefinitions
// (e.g. a self-hosted Ollama box, or an OpenAI-compatible gateway fronting
// a different vendor) alongside these.
func DefaultProviders() []ProviderDefinition {
	return []ProviderDefinition{
		{
			ID:              "anthropic",
			DisplayName:     "Anthropic Claude",
			APIType:         APITypeAnthropic,
			BaseURL:         "https://api.anthropic.com",
			AuthHeaderShape: AuthAPIKeyHdr,
			CredentialRef:   "anthropic",
		},
		{
			ID:              "openai",
			DisplayName:     "OpenAI",
			APIType:         APITypeOpenAICompatible,
			BaseURL:         "https://api.openai.com/v1",
			AuthHeaderShape: AuthBearer,
			CredentialRef:   "openai",
		},
		{
			ID:              "gemini",
			DisplayName:     "Google Gemini",
			APIType:         APITypeGoogle,
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			AuthHeaderShape: AuthQueryParam,
			CredentialRef:   "gemini",
		},
		{
			ID:              "ollama",
			DisplayName:     "Ollama (local)",
			APIType:         APITypeOllama,
			BaseURL:         "http://localhost:11434",
			AuthHeaderShape: AuthNone,
		},
	}
}

// NewDefaultProviderRegistry returns a registry seeded with DefaultProviders.
func NewDefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	for _, p := range DefaultProviders() {
		_ = r.Register(p.ID, p)
	}
	return r
}
