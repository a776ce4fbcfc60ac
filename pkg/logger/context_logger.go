package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type fieldKey int

const (
	roomField fieldKey = iota
	participantField
)

// WithRoom tags ctx so loggers derived from it carry room_id.
func WithRoom[T ~string](ctx context.Context, id T) context.Context {
	return context.WithValue(ctx, roomField, string(id))
}

// WithParticipant tags ctx so loggers derived from it carry participant_id.
func WithParticipant[T ~string](ctx context.Context, id T) context.Context {
	return context.WithValue(ctx, participantField, string(id))
}

// For annotates base with the room, the participant and the active trace
// found in ctx. base is returned as is when ctx carries none of them.
func For(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	var kv []interface{}
	if v, _ := ctx.Value(roomField).(string); v != "" {
		kv = append(kv, "room_id", v)
	}
	if v, _ := ctx.Value(participantField).(string); v != "" {
		kv = append(kv, "participant_id", v)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		kv = append(kv, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if kv == nil {
		return base
	}
	return base.With(kv...)
}
