package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracerProvider swaps in a TracerProvider backed by an in-memory
// exporter and restores the previous global provider when the test ends.
func installTracerProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects slog.Default to a strings.Builder for the test.
func captureLog(t *testing.T) *strings.Builder {
	t.Helper()
	var sb strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&sb, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &sb
}

func TestStartSpan_RecordsUnderModuleScope(t *testing.T) {
	exp := installTracerProvider(t)

	ctx, span := StartSpan(context.Background(), "verify.prepare")
	if CorrelationID(ctx) == "" {
		t.Error("no trace ID inside StartSpan context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "verify.prepare" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "verify.prepare")
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope name = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
}

func TestCorrelationID(t *testing.T) {
	installTracerProvider(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID outside a span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "session.run")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q contains non-hex characters", cid)
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	installTracerProvider(t)

	seen := make(map[string]bool, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "unique")
		cid := CorrelationID(ctx)
		span.End()
		if seen[cid] {
			t.Fatalf("trace ID %s repeated", cid)
		}
		seen[cid] = true
	}
}

func TestLogger_BindsTraceAndSpanIDs(t *testing.T) {
	installTracerProvider(t)
	out := captureLog(t)

	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()

	Logger(ctx).Info("aligned batch")

	line := out.String()
	for _, attr := range []string{"trace_id=", "span_id="} {
		if !strings.Contains(line, attr) {
			t.Errorf("log line missing %s: %s", attr, line)
		}
	}
}

func TestLogger_PlainOutsideSpan(t *testing.T) {
	out := captureLog(t)

	Logger(context.Background()).Info("startup")

	if line := out.String(); strings.Contains(line, "trace_id") {
		t.Errorf("log line outside a span carries trace_id: %s", line)
	}
}

func TestTracer_NotNil(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() = nil")
	}
}
