package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// initTracing installs a tracer provider for the named exporter. With "none"
// it returns a nil tracer and the orchestrator keeps the global no-op one.
func initTracing(exporter string, w io.Writer) (trace.Tracer, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch exporter {
	case "", "none":
		return nil, noop, nil
	case "stdout":
	default:
		return nil, noop, fmt.Errorf("unknown trace exporter %q (want none or stdout)", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, noop, fmt.Errorf("create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes("", attribute.String("service.name", "checkin"))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Tracer("presence-backend/checkin"), tp.Shutdown, nil
}
