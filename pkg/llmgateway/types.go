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

// Package llmgateway is the LLM Gateway of spec.md §4.C: it accepts one
// uniform Request regardless of which wire dialect backs the selected
// provider, fans out StreamEvents as the call progresses, and returns one
// uniform FinalResponse. Retry, backoff and cancellation are handled once,
// in pkg/httpclient, and reused by every dialect.
package llmgateway

import (
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

// APIType names one of the four wire dialects the Gateway translates,
// per spec.md §4.C.
type APIType string

const (
	APITypeAnthropic        APIType = "anthropic"
	APITypeOpenAICompatible APIType = "openai-compatible"
	APITypeGoogle           APIType = "google"
	APITypeOllama           APIType = "ollama"
)

// AuthHeaderShape tells the Gateway how to attach a resolved credential to
// an outbound request; each dialect's own wire format is otherwise silent
// about authentication.
type AuthHeaderShape string

const (
	AuthBearer     AuthHeaderShape = "bearer"     // Authorization: Bearer <secret>
	AuthAPIKeyHdr  AuthHeaderShape = "x-api-key"  // x-api-key: <secret>
	AuthQueryParam AuthHeaderShape = "query_param" // ?key=<secret>
	AuthNone       AuthHeaderShape = "none"       // local/unauthenticated endpoints (e.g. Ollama)
)

// ProviderDefinition names one deployable LLM backend: a registry entry
// plus enough wiring information for the Gateway to build and authenticate
// a request, per spec.md §3 ("Registry is static + user-defined
// extensions").
type ProviderDefinition struct {
	ID              string
	DisplayName     string
	APIType         APIType
	BaseURL         string
	AuthHeaderShape AuthHeaderShape
	// CredentialRef names the secret the credential.Resolver resolves to
	// produce the value attached per AuthHeaderShape. Empty means no
	// credential is required (AuthNone).
	CredentialRef string
}

// ToolDefinition is a tool's name, description and JSON-schema parameter
// shape, translated into each dialect's own tool-declaration wire format.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is the uniform shape every dialect consumes: an ordered message
// history, a system prompt, tool declarations, and generation options.
type Request struct {
	SessionID       string
	Model           session.ModelSelector
	SystemPrompt    string
	Messages        []session.Message
	Tools           []ToolDefinition
	Temperature     float64
	MaxOutputTokens int
	// RetryPolicy overrides the Gateway's default httpclient retry
	// settings for this call; a zero value for any field means "use the
	// Gateway's default" (spec.md §4.C).
	RetryPolicy session.RetryPolicy
}

// FinalResponse is what a dialect returns once its stream ends: the
// accumulated text/reasoning, any tool calls the model requested, why the
// step stopped, and token usage (exact where the dialect reports it,
// estimated otherwise). StopReason is never a tool-use marker: every
// dialect's own "the model wants to call a tool" signal (Anthropic's
// tool_use, OpenAI's tool_calls, Ollama's presence of a tool-call object)
// collapses to StopEndTurn here, and the Reasoning Loop decides whether to
// dispatch tools by checking len(ToolCalls) > 0, per spec.md §4.C's
// dialect table and §4.B step 6.
type FinalResponse struct {
	StopReason streamevent.StopReason
	Text       string
	Reasoning  string
	ToolCalls  []session.ToolInvocationBlock
	Usage      streamevent.Usage
}
