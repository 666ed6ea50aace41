// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// PipelineTracer creates spans around pipeline stages.
//
// # Description
//
// StartSpan returns a derived context and a finish function. The finish
// function must be called exactly once with the stage's error (or nil).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type PipelineTracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))

	// TraceID returns the active trace ID, or "" when there is none.
	TraceID(ctx context.Context) string

	// Shutdown flushes pending spans.
	Shutdown(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// NoOp
// -----------------------------------------------------------------------------

// NoOpPipelineTracer creates no spans.
type NoOpPipelineTracer struct{}

// NewNoOpPipelineTracer returns a tracer that does nothing.
func NewNoOpPipelineTracer() *NoOpPipelineTracer {
	return &NoOpPipelineTracer{}
}

func (t *NoOpPipelineTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (t *NoOpPipelineTracer) TraceID(ctx context.Context) string { return "" }

func (t *NoOpPipelineTracer) Shutdown(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------
// OpenTelemetry
// -----------------------------------------------------------------------------

// TracerConfig configures OTLP export.
type TracerConfig struct {
	// ServiceName is reported as service.name. Default: "aleutian-feedback".
	ServiceName string

	// Endpoint is the OTLP gRPC collector address. Default: "localhost:4317".
	Endpoint string

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// OTelPipelineTracer exports spans through an OpenTelemetry provider.
type OTelPipelineTracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewOTelPipelineTracer creates a tracer exporting over OTLP/gRPC.
//
// # Description
//
// Builds a gRPC client for the collector, an OTLP exporter on top of it,
// and a batching TracerProvider tagged with the service name. The provider
// is installed as the global provider with W3C trace context propagation.
//
// # Outputs
//
//   - *OTelPipelineTracer: Ready tracer. Call Shutdown before exit.
//   - error: Non-nil if the connection, exporter or resource could not be
//     created.
func NewOTelPipelineTracer(ctx context.Context, config TracerConfig) (*OTelPipelineTracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = "aleutian-feedback"
	}
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4317"
	}

	var dialOpts []grpc.DialOption
	if config.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(config.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			attribute.String("deployment.environment", environment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return NewOTelPipelineTracerWithProvider(provider, config.ServiceName), nil
}

// NewOTelPipelineTracerWithProvider wraps an existing provider. Nothing is
// installed globally.
func NewOTelPipelineTracerWithProvider(provider *sdktrace.TracerProvider, serviceName string) *OTelPipelineTracer {
	return &OTelPipelineTracer{
		tracer:   provider.Tracer(serviceName),
		provider: provider,
	}
}

func (t *OTelPipelineTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(otelAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (t *OTelPipelineTracer) TraceID(ctx context.Context) string {
	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}

func (t *OTelPipelineTracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// NewDefaultPipelineTracer returns an OTLP tracer when an endpoint is
// configured, falling back to OTEL_EXPORTER_OTLP_ENDPOINT, and a no-op
// tracer otherwise.
func NewDefaultPipelineTracer(ctx context.Context, config TracerConfig) (PipelineTracer, error) {
	if config.Endpoint == "" {
		config.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if config.Endpoint == "" {
		return NewNoOpPipelineTracer(), nil
	}
	return NewOTelPipelineTracer(ctx, config)
}

func environment() string {
	if env := os.Getenv("ALEUTIAN_ENV"); env != "" {
		return env
	}
	return "development"
}

var _ PipelineTracer = (*NoOpPipelineTracer)(nil)
var _ PipelineTracer = (*OTelPipelineTracer)(nil)
