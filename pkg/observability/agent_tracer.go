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

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps an OpenTelemetry tracer with span helpers for the agent
// runtime's three trace-worthy operations: a Reasoning Loop step, an LLM
// Gateway call, and a Tool Executor dispatch. Manager builds one from
// TracingConfig.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	debugExporter  *DebugExporter
	capturePayload bool
}

// TracerOption configures a Tracer built by NewTracer.
type TracerOption func(*Tracer)

// WithDebugExporter registers an in-memory span exporter for operator
// inspection, independent of whatever real exporter is also configured.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) { t.debugExporter = exporter }
}

// WithCapturePayloads enables capturing full LLM/tool request and response
// bodies on spans. Off by default: spans can grow large and payloads may
// carry sensitive data.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) { t.capturePayload = capture }
}

// NewTracer creates a Tracer from TracingConfig. It returns (nil, nil) when
// tracing is disabled, matching the nil-tracer-means-disabled convention
// Manager and its callers rely on throughout this package.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	exporter, err := createSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String(AttrGenAISystem, "agentcore"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.debugExporter != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}

	return t, nil
}

func createSpanExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPSpanExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger", "zipkin":
		// Modern collectors for both accept OTLP; route through it rather
		// than carrying a dedicated exporter per backend.
		return createOTLPSpanExporter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createOTLPSpanExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartSessionStep begins the top-level span for one Reasoning Loop step.
func (t *Tracer) StartSessionStep(ctx context.Context, sessionID, agentID, orgID string, step int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanSessionStep,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrAgentID, agentID),
			attribute.String(AttrOrgID, orgID),
			attribute.Int(AttrStep, step),
		),
	)
}

// StartLLMCall begins a span for an LLM Gateway call.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, maxTokens int, temperature float64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrGenAIOperationName, OpChat),
		attribute.String(AttrGenAIRequestModel, model),
	}
	if maxTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrGenAIRequestMaxTokens, maxTokens))
	}
	if temperature > 0 {
		attrs = append(attrs, attribute.Float64(AttrGenAIRequestTemperature, temperature))
	}
	return t.Start(ctx, SpanLLMCall, trace.WithAttributes(attrs...))
}

// StartToolExecution begins a span for one tool call dispatched by the Tool
// Executor.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolExecution,
		trace.WithAttributes(
			attribute.String(AttrGenAIOperationName, OpToolCall),
			attribute.String(AttrGenAIToolName, toolName),
			attribute.String(AttrGenAIToolCallID, callID),
		),
	)
}

// AddLLMUsage adds token usage information to a span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrGenAIUsageInputTokens, inputTokens),
		attribute.Int(AttrGenAIUsageOutputTokens, outputTokens),
	)
}

// AddLLMFinishReason adds the model's own stop/finish reason to a span.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrGenAIResponseFinishReason, reason))
}

// AddStopReason adds the session-level stop reason (streamevent.StopReason,
// distinct from the model's own finish reason) to a span.
func (t *Tracer) AddStopReason(span trace.Span, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrStopReason, reason))
}

// AddPayload adds the serialized LLM request/response to a span, if payload
// capture is enabled.
func (t *Tracer) AddPayload(span trace.Span, request, response string) {
	if span == nil || t == nil || !t.capturePayload {
		return
	}
	if request != "" {
		span.SetAttributes(attribute.String(AttrLLMRequest, request))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrLLMResponse, response))
	}
}

// AddToolPayload adds the serialized tool arguments/response to a span, if
// payload capture is enabled.
func (t *Tracer) AddToolPayload(span trace.Span, args, response string) {
	if span == nil || t == nil || !t.capturePayload {
		return
	}
	if args != "" {
		span.SetAttributes(attribute.String(AttrToolArgs, args))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrToolResponse, response))
	}
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the debug exporter, or nil if not configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and stops the tracer's span processors.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a no-op span satisfying trace.Span, for callers (Start's
// disabled-tracer path) that need a span to unconditionally call .End() on.
func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
