package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects the OTLP collector spans are sent to. With both endpoints empty no
// exporter is built and spans only feed context propagation.
type Config struct {
	GRPCEndpoint string            `mapstructure:"otlp_grpc_endpoint"`
	HTTPEndpoint string            `mapstructure:"otlp_http_endpoint"`
	Headers      map[string]string `mapstructure:"otlp_headers"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.GRPCEndpoint != "" || c.HTTPEndpoint != ""
}

// NewExporter builds an OTLP span exporter, preferring gRPC. It returns nil when c is not
// Enabled.
func NewExporter(ctx context.Context, c Config) (sdktrace.SpanExporter, error) {
	if !c.Enabled() {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if c.GRPCEndpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(c.GRPCEndpoint),
			otlptracegrpc.WithHeaders(c.Headers),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp grpc exporter: %w", err)
		}
		return exp, nil
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(c.HTTPEndpoint),
		otlptracehttp.WithHeaders(c.Headers),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp http exporter: %w", err)
	}
	return exp, nil
}
