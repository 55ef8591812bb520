// Package trace provides distributed tracing on OpenTelemetry with W3C Trace
// Context propagation, plus a trace-aware slog logger.
package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/GriffinCanCode/voicechat"

func tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	StartTime time.Time
	span      oteltrace.Span
}

// StartSpan begins a new span as a child of any span already in ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, s := tracer().Start(ctx, name)
	return ctx, &Span{Name: name, StartTime: time.Now(), span: s}
}

// End marks the span as complete.
func (s *Span) End() {
	s.span.End()
}

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) {
	s.span.SetAttributes(attr(key, val))
}

// RecordError marks the span as failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the hex trace id, or "" when the span is not recording.
func (s *Span) TraceID() string {
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// LogValue implements slog.LogValuer for structured logging.
func (s *Span) LogValue() slog.Value {
	sc := s.span.SpanContext()
	return slog.GroupValue(
		slog.String("span_name", s.Name),
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
		slog.Duration("elapsed", time.Since(s.StartTime)),
	)
}

func attr(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key+"_ms", v.Milliseconds())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// Logger returns a slog.Logger with trace context.
func Logger(ctx context.Context) *slog.Logger {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return slog.Default()
	}
	return slog.Default().With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
