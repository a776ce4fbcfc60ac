package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "peercall"
	serviceVersion      = "1.0.0"
)

// Span attributes shared by the relay, the poll endpoint and call clients.
var (
	RoomIDKey        = attribute.Key("room.id")
	ParticipantIDKey = attribute.Key("participant.id")
	SignalTypeKey    = attribute.Key("signal.type")
	RoleKey          = attribute.Key("call.role")
	DurationKey      = attribute.Key("duration_ms")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	// SampleRate is the ratio of new root traces kept. Child spans follow
	// their parent's decision.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "peercall",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider is nil-safe: with tracing disabled it holds no SDK
// provider and Shutdown is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-exporting provider and W3C propagation globally.
// The global no-op tracer stays in place when tracing is disabled.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes buffered spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// End records err, when non-nil, and ends span.
func End(span trace.Span, err error) {
	if err != nil && span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceWebSocketMessage spans one relay request from a connected participant.
func TraceWebSocketMessage(ctx context.Context, messageType, participantID, roomID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "websocket."+messageType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			SignalTypeKey.String(messageType),
			ParticipantIDKey.String(participantID),
			RoomIDKey.String(roomID),
		),
	)
}

// TraceNegotiation spans a client-side call step such as create_room.
func TraceNegotiation(ctx context.Context, operation, role string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(RoleKey.String(role)),
	)
}

// TraceRoomOperation spans a registry call against the room store.
func TraceRoomOperation(ctx context.Context, operation, roomID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "rooms."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(RoomIDKey.String(roomID)),
	)
}
