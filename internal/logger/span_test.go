package logger

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func TestSpanRecordsAttributesAndErrors(t *testing.T) {
	recorder := recordSpans(t)

	parent := StartSpan(context.Background(), "match", trace.WithAttributes(attribute.String("request_id", "req-1")))
	child := StartSpan(parent.Context(), "backend.score")
	child.RecordError(errors.New("boom"))
	child.End()
	parent.SetAttributes(attribute.String("algorithm", "primary"))
	parent.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}

	scoreSpan, matchSpan := spans[0], spans[1]
	if scoreSpan.Name() != "backend.score" || matchSpan.Name() != "match" {
		t.Fatalf("unexpected span names %q, %q", scoreSpan.Name(), matchSpan.Name())
	}
	if scoreSpan.Parent().SpanID() != matchSpan.SpanContext().SpanID() {
		t.Fatalf("expected backend.score to be a child of match")
	}
	if scoreSpan.Status().Code != codes.Error || scoreSpan.Status().Description != "boom" {
		t.Fatalf("unexpected status %+v", scoreSpan.Status())
	}
	if matchSpan.Status().Code != codes.Unset {
		t.Fatalf("expected match span status unset, got %+v", matchSpan.Status())
	}

	attrs := map[attribute.Key]string{}
	for _, kv := range matchSpan.Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	if attrs["request_id"] != "req-1" || attrs["algorithm"] != "primary" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}
