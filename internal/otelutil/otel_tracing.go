package otelutil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeycombio/rebalancer/config"
)

const (
	apiKeyHeader  = "x-honeycomb-team"
	datasetHeader = "x-honeycomb-dataset"
)

// RecordError marks the span as failed and attaches the error as an
// exception event.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanField adds a field to a span, using the appropriate method for the type of the value.
func AddSpanField(span trace.Span, key string, value any) {
	span.SetAttributes(Attributes(map[string]any{key: value})...)
}

// AddSpanFields adds multiple fields to a span, using the appropriate method for the type of each value.
func AddSpanFields(span trace.Span, fields map[string]any) {
	span.SetAttributes(Attributes(fields)...)
}

// Attributes converts a map of fields to a slice of attribute.KeyValue, setting types appropriately.
func Attributes(fields map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		kv := attribute.KeyValue{Key: attribute.Key(k)}
		switch val := v.(type) {
		case string:
			kv.Value = attribute.StringValue(val)
		case int:
			kv.Value = attribute.IntValue(val)
		case int64:
			kv.Value = attribute.Int64Value(val)
		case uint64:
			kv.Value = attribute.Int64Value(int64(val))
		case float64:
			kv.Value = attribute.Float64Value(val)
		case bool:
			kv.Value = attribute.BoolValue(val)
		case fmt.Stringer:
			kv.Value = attribute.StringValue(val.String())
		default:
			kv.Value = attribute.StringValue(fmt.Sprintf("%v", val))
		}
		attrs = append(attrs, kv)
	}
	return attrs
}

// StartSpanWith starts a span with a single field.
func StartSpanWith(ctx context.Context, tracer trace.Tracer, name string, field string, value any) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(Attributes(map[string]any{field: value})...))
}

// StartSpanMulti starts a span with multiple fields.
func StartSpanMulti(ctx context.Context, tracer trace.Tracer, name string, fields map[string]any) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(Attributes(fields)...))
}

// SetupTracing returns a no-op tracer when tracing is disabled. Otherwise it
// installs a global provider exporting OTLP over HTTP to cfg.APIHost, and the
// returned shutdown func flushes it.
func SetupTracing(cfg config.OTelTracingConfig, library string, version string) (trace.Tracer, func(), error) {
	if !cfg.Enabled {
		pr := noop.NewTracerProvider()
		return pr.Tracer(library, trace.WithInstrumentationVersion(version)), func() {}, nil
	}

	apihost, err := url.Parse(strings.TrimSuffix(cfg.APIHost, "/"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse otel API host: %w", err)
	}
	endpoint := apihost.Host
	if apihost.Port() == "" {
		endpoint += ":443"
	}

	sampleRate := cfg.SampleRate
	if sampleRate < 1 {
		sampleRate = 1
	}

	headers := make(map[string]string)
	if cfg.APIKey != "" {
		headers[apiKeyHeader] = cfg.APIKey
		headers[datasetHeader] = cfg.Dataset
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithTLSClientConfig(&tls.Config{}),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failure configuring otel trace exporter: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	otel.SetTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(1.0/float64(sampleRate))),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(cfg.Dataset))),
	))

	return otel.Tracer(library, trace.WithInstrumentationVersion(version)), func() {
		bsp.Shutdown(context.Background())
		exporter.Shutdown(context.Background())
	}, nil
}
