package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("ENV", "production")

	cfg := tracingConfigFromEnv()
	if cfg.endpoint != "collector:4317" || cfg.insecure || cfg.ratio != 0.25 || cfg.environment != "production" {
		t.Fatalf("config = %+v", cfg)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "7")
	t.Setenv("ENV", "")
	cfg = tracingConfigFromEnv()
	if !cfg.insecure || cfg.ratio != 1 || cfg.environment != "development" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("live-moderation", "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
}

func TestStartSpanCarriesRequestContext(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := WithCorrelation(context.Background(), "corr-1")
	_, span := StartSpan(ctx, "test", "POST /sessions/{id}/bans", SessionAttr("sess-1"))
	span.SetAttributes(ModeratorAttr("ana"))
	RecordError(span, errors.New("helix unavailable"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	got := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		"correlation_id":        "corr-1",
		"moderation.session_id": "sess-1",
		"moderation.moderator":  "ana",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status())
	}
}
