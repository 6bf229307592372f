// Package observability emits one structured NDJSON event per pipeline
// stage transition, keyed by trace ID, and mirrors each event onto the
// active OpenTelemetry span.
package observability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogSink writes pipeline events through zerolog. Events are advisory:
// Emit never returns an error and never blocks the pipeline.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.Logger}
}

func (s *LogSink) Emit(ctx context.Context, event string, traceID string, fields map[string]any) {
	evt := s.logger.Info().
		Str("event", event).
		Str("trace_id", traceID)
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg("pipeline event")

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		attrs := make([]attribute.KeyValue, 0, len(fields)+1)
		attrs = append(attrs, attribute.String("trace_id", traceID))
		for k, v := range fields {
			attrs = append(attrs, attribute.String(k, toString(v)))
		}
		span.AddEvent(event, trace.WithAttributes(attrs...))
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
