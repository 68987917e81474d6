package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ZapTracer emits spans and metrics as structured log lines through the
// given *zap.Logger instead of exporting to a tracing backend — a minimal
// always-on tracer suited to local runs and the measurement-log
// conventions this module otherwise relies on zap for.
type ZapTracer struct {
	logger *zap.Logger
}

// NewZapTracer returns a ZapTracer writing through logger.
func NewZapTracer(logger *zap.Logger) *ZapTracer {
	return &ZapTracer{logger: logger}
}

var _ Tracer = (*ZapTracer)(nil)

// StartSpan creates a span linked to any parent found in ctx.
func (t *ZapTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(span)
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan logs the span's duration and status at debug level.
func (t *ZapTracer) EndSpan(span *Span) {
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	fields := []zap.Field{
		zap.String("span", span.Name),
		zap.String("trace_id", span.TraceID),
		zap.Duration("duration", span.Duration),
	}
	if span.Status.Code == StatusError {
		fields = append(fields, zap.String("status", "error"), zap.String("error", span.Status.Message))
		t.logger.Warn("span completed with error", fields...)
		return
	}
	t.logger.Debug("span completed", fields...)
}

// RecordMetric logs name/value/labels at debug level.
func (t *ZapTracer) RecordMetric(name string, value float64, labels map[string]string) {
	fields := make([]zap.Field, 0, len(labels)+2)
	fields = append(fields, zap.String("metric", name), zap.Float64("value", value))
	for k, v := range labels {
		fields = append(fields, zap.String(k, v))
	}
	t.logger.Debug("metric recorded", fields...)
}

// RecordEvent logs a standalone event at debug level.
func (t *ZapTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	t.logger.Debug("event recorded", zap.String("event", name), zap.Any("attributes", attributes))
}

// Flush syncs the underlying zap logger.
func (t *ZapTracer) Flush(ctx context.Context) error {
	return t.logger.Sync()
}
