package obs

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WithTrace adds the ids of the span in ctx to log, plus any extra fields.
// Without a valid span only the extra fields are added.
func WithTrace(ctx context.Context, log *zap.Logger, fields ...zap.Field) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}

// SpanError records err on the span in ctx and marks the span failed.
func SpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
