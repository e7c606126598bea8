package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestNewWithoutEndpoint(t *testing.T) {
	tracer, shutdown := New(Config{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("New() returned nil")
	}
	if tracer.tracer == nil {
		t.Error("tracer.tracer is nil")
	}
}

func TestNilTracerIsUsable(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.StartPhase(context.Background(), "synthesis", "req-1")
	if span == nil {
		t.Fatal("StartPhase() on nil tracer returned nil span")
	}
	span.End()

	if got := TraceID(ctx); got != "" {
		t.Errorf("TraceID() on non-recording span = %q, want empty", got)
	}
}

func TestStartHelpers(t *testing.T) {
	tracer, shutdown := New(Config{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	for _, start := range []func() {
		func() { _, s := tracer.StartHTTPRequest(ctx, "POST", "/api/chat"); s.End() },
		func() { _, s := tracer.StartBackendCall(ctx, "huihui"); s.End() },
		func() { _, s := tracer.StartToolExecution(ctx, "data_analyst_01", "get_bitcoin_price"); s.End() },
	} {
		start()
	}
}

func TestRecordError(t *testing.T) {
	tracer, shutdown := New(Config{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "op")
	defer span.End()

	RecordError(span, errors.New("backend unavailable"))
	RecordError(span, nil)
}
