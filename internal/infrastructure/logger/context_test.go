package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := zap.NewExample()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}

func TestContextValues(t *testing.T) {
	log := zap.NewNop()
	ctx, _ := WithRequestID(context.Background(), log, "req-1")
	ctx, _ = WithActor(ctx, log, "adjuster-7")
	ctx, _ = WithBatchID(ctx, log, "batch-9")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "adjuster-7", GetActor(ctx))
	assert.Equal(t, "batch-9", GetBatchID(ctx))
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetActor(context.Background()))
}

func TestContextLogger_EnrichesEntries(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithContext(context.Background(), zap.New(core))
	ctx = context.WithValue(ctx, RequestIDKey, "req-42")
	ctx = context.WithValue(ctx, ActorKey, "ops")
	ctx = context.WithValue(ctx, BatchIDKey, "b-1")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	L(ctx).With(zap.String("claim_id", "c-1")).Info("settled")

	entries := recorded.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-42", fields["request_id"])
		assert.Equal(t, "ops", fields["actor"])
		assert.Equal(t, "b-1", fields["batch_id"])
		assert.Equal(t, "c-1", fields["claim_id"])
		assert.Equal(t, traceID.String(), fields["trace_id"])
	}
	assert.Equal(t, traceID.String(), GetTraceID(ctx))
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() {
		cl.Warn("nothing configured")
		cl.Error("still nothing")
	})
	assert.NotNil(t, cl.Zap())
}
