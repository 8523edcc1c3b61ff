/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	otrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName is the service name reported on spans
const ServiceName = "drsctl"

// Config holds tracing configuration
type Config struct {
	Enabled           bool
	Endpoint          string
	ServiceName       string
	ServiceVersion    string
	SamplingRatio     float64
	InsecureTransport bool
}

// DefaultConfig returns default tracing configuration
func DefaultConfig(version string) *Config {
	return &Config{
		Enabled:           getEnvBool("DRSCTL_TRACING_ENABLED", false),
		Endpoint:          getEnv("DRSCTL_TRACING_ENDPOINT", ""),
		ServiceName:       ServiceName,
		ServiceVersion:    version,
		SamplingRatio:     getEnvFloat("DRSCTL_TRACING_SAMPLING_RATIO", 1.0),
		InsecureTransport: getEnvBool("DRSCTL_TRACING_INSECURE", true),
	}
}

// Setup initializes OpenTelemetry tracing and returns its shutdown function
func Setup(ctx context.Context, config *Config) (func(), error) {
	if !config.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() {}, nil
	}

	if config.Endpoint == "" {
		return nil, fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
	}

	if config.InsecureTransport {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.SamplingRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down tracer provider: %v\n", err)
		}
	}, nil
}

// StartSpan starts a new span with the given name and options
func StartSpan(ctx context.Context, name string, opts ...otrace.SpanStartOption) (context.Context, otrace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, name, opts...)
}

// StartRuleSpan starts a span for a phase of a rule reconciliation
func StartRuleSpan(ctx context.Context, name, cluster, rule string) (context.Context, otrace.Span) {
	return StartSpan(ctx, name,
		otrace.WithAttributes(
			AttrCluster.String(cluster),
			AttrRule.String(rule),
		),
	)
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span otrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	otrace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// Attribute keys
var (
	AttrCluster   = attribute.Key("drs.cluster")
	AttrRule      = attribute.Key("drs.rule")
	AttrAction    = attribute.Key("drs.action")
	AttrCondition = attribute.Key("drs.condition")
	AttrTaskRef   = attribute.Key("task.ref")
	AttrOperation = attribute.Key("operation")
)

// Span names
const (
	SpanReconcile = "drs.reconcile"
	SpanCollect   = "drs.collect"
	SpanCompare   = "drs.compare"
	SpanCreate    = "drs.create"
	SpanDelete    = "drs.delete"
	SpanUpdate    = "drs.update"
	SpanTaskWait  = "drs.task_wait"
	SpanWatchPass = "drs.watch_pass"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
