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

// Package observability provides the OpenTelemetry tracing and Prometheus
// metrics backing the Reasoning Loop, LLM Gateway, and Tool Executor.
//
// The observability system has three parts:
//
//  1. Tracing: OpenTelemetry spans with OTLP (or stdout, for local
//     debugging) export.
//  2. Metrics: Prometheus counters and histograms.
//  3. Debug: an in-memory span capture for operator inspection, kept
//     separate from the real exporter so a dashboard can read recent spans
//     without depending on an external collector being reachable.
package observability

// =============================================================================
// Service Attributes (OpenTelemetry Semantic Conventions)
// =============================================================================

const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrServiceInstance = "service.instance.id"
)

// =============================================================================
// GenAI Semantic Conventions
// =============================================================================

const (
	// AttrGenAISystem identifies the GenAI system (e.g. "agentcore").
	AttrGenAISystem = "gen_ai.system"

	AttrGenAIOperationName        = "gen_ai.operation.name"
	AttrGenAIRequestModel         = "gen_ai.request.model"
	AttrGenAIRequestTemperature   = "gen_ai.request.temperature"
	AttrGenAIRequestTopP          = "gen_ai.request.top_p"
	AttrGenAIRequestMaxTokens     = "gen_ai.request.max_tokens"
	AttrGenAIResponseFinishReason = "gen_ai.response.finish_reason"
	AttrGenAIUsageInputTokens     = "gen_ai.usage.input_tokens"
	AttrGenAIUsageOutputTokens    = "gen_ai.usage.output_tokens"
	AttrGenAIToolName             = "gen_ai.tool.name"
	AttrGenAIToolDescription      = "gen_ai.tool.description"
	AttrGenAIToolCallID           = "gen_ai.tool.call.id"
)

// =============================================================================
// Agent-Runtime Attributes
// =============================================================================

const (
	AttrAgentID      = "agentcore.agent.id"
	AttrOrgID        = "agentcore.org.id"
	AttrSessionID    = "agentcore.session.id"
	AttrStep         = "agentcore.step"
	AttrEventID      = "agentcore.event_id"
	AttrLLMRequest   = "agentcore.llm.request"
	AttrLLMResponse  = "agentcore.llm.response"
	AttrToolArgs     = "agentcore.tool.args"
	AttrToolResponse = "agentcore.tool.response"
	AttrStopReason   = "agentcore.stop_reason"
)

// =============================================================================
// HTTP Attributes
// =============================================================================

const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPRequestSize  = "http.request.body.size"
	AttrHTTPResponseSize = "http.response.body.size"
)

// =============================================================================
// Error Attributes
// =============================================================================

const (
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// =============================================================================
// Span Names
// =============================================================================

const (
	// SpanSessionStep is the top-level span for one Reasoning Loop step.
	SpanSessionStep   = "agentcore.session.step"
	SpanLLMCall       = "agentcore.llm.call"
	SpanToolExecution = "agentcore.tool.execute"
	SpanHTTPRequest   = "agentcore.http.request"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	DefaultServiceName  = "agentcore"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

// =============================================================================
// GenAI Operation Names (for AttrGenAIOperationName)
// =============================================================================

const (
	OpChat     = "chat"
	OpToolCall = "execute_tool"
)
