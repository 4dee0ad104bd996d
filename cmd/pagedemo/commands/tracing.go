package commands

import (
	"context"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanLogger logs every finished span at debug level.
type spanLogger struct {
	logger zerolog.Logger
}

var _ sdktrace.SpanProcessor = spanLogger{}

func (spanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p spanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	ev := p.logger.Debug().
		Str("span", s.Name()).
		Str("trace_id", s.SpanContext().TraceID().String()).
		Dur("duration", s.EndTime().Sub(s.StartTime())).
		Str("status", s.Status().Code.String())
	for _, kv := range s.Attributes() {
		ev = ev.Str(string(kv.Key), kv.Value.Emit())
	}
	ev.Msg("span finished")
}

func (spanLogger) Shutdown(context.Context) error   { return nil }
func (spanLogger) ForceFlush(context.Context) error { return nil }

func newTracerProvider(logger zerolog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanLogger{logger: logger}))
}
