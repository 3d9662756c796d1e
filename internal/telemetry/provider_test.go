package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	provider := otel.GetTracerProvider()
	propagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagator)
	})
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), "navsphere-api", "  ")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("tracer provider replaced without an endpoint")
	}
}

func TestSetupRegistersProvider(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := Setup(context.Background(), "", "http://127.0.0.1:4318")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("tracer provider = %T", otel.GetTracerProvider())
	}
	fields := otel.GetTextMapPropagator().Fields()
	want := map[string]bool{"traceparent": false, "baggage": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Fatalf("propagator missing %s, fields = %v", field, fields)
		}
	}
}
