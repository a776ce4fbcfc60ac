package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "peercall", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.False(t, cfg.Enabled)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan_NoProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	span.End()
}

func TestTraceWebSocketMessage_RecordsAttributes(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := TraceWebSocketMessage(context.Background(), "offer", "p-1", "abc1234")
	AddSpanAttributes(ctx, attribute.Int("payload.bytes", 42))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "websocket.offer", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "abc1234", attrs[RoomIDKey].AsString())
	assert.Equal(t, "p-1", attrs[ParticipantIDKey].AsString())
	assert.Equal(t, int64(42), attrs["payload.bytes"].AsInt64())
}

func TestRecordError_SetsStatus(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := TraceNegotiation(context.Background(), "apply_answer", "creator")
	RecordError(ctx, errors.New("boom"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "call.apply_answer", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestEnd_RecordsOnlyFailures(t *testing.T) {
	rec := installRecorder(t)

	_, ok := TraceRoomOperation(context.Background(), "join", "abc1234")
	End(ok, nil)
	_, failed := TraceRoomOperation(context.Background(), "join", "zzz0000")
	End(failed, errors.New("RoomNotFound"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "rooms.join", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
}

func TestTraceHTTPRequest_IsServerSpan(t *testing.T) {
	rec := installRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/api/signaling")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "http.GET", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}
