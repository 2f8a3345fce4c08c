package main

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanLogger is a span processor that logs every span as it starts and ends.
// It is attached alongside the exporter, the same way a span inferrer would
// be, and shows at debug level exactly what the tracer was handed.
type SpanLogger struct {
	log Logger
}

// make sure it implements SpanProcessor
var _ sdktrace.SpanProcessor = (*SpanLogger)(nil)

func NewSpanLogger(log Logger) *SpanLogger {
	return &SpanLogger{log: log}
}

func (p *SpanLogger) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	sc := s.SpanContext()
	p.log.Debug("start %s trace=%s span=%s parent=%s", s.Name(), sc.TraceID(), sc.SpanID(), s.Parent().SpanID())
}

func (p *SpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	p.log.Debug("end %s span=%s duration=%s status=%s", s.Name(), s.SpanContext().SpanID(), s.EndTime().Sub(s.StartTime()), s.Status().Code)
}

func (p *SpanLogger) Shutdown(context.Context) error {
	return nil
}

func (p *SpanLogger) ForceFlush(context.Context) error {
	return nil
}
