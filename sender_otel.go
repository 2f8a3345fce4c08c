package main

import (
	"context"
	"crypto/tls"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
	"pgregory.net/rand"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// make sure it implements Sender
var _ Sender = (*SenderOTel)(nil)

type OTelSendable struct {
	trace.Span
}

func (s OTelSendable) Send() {
	(trace.Span)(s).End()
}

func (s OTelSendable) Fail(err error) {
	s.Span.RecordError(err)
	s.Span.SetStatus(codes.Error, err.Error())
}

// SenderOTel creates spans with an OpenTelemetry tracer. The tracer comes
// from the provider it was built with, never from the global one.
type SenderOTel struct {
	tracer   trace.Tracer
	shutdown func()
}

// NewSenderOTel sets up an SDK tracer provider exporting over OTLP. Any
// processors passed in (for example a stack-sampling span inferrer) are
// registered before the first span is created, so they see every cycle.
func NewSenderOTel(log Logger, opts *Options, processors ...sdktrace.SpanProcessor) *SenderOTel {
	var client otlptrace.Client
	switch opts.Output.Protocol {
	case "grpc":
		client = setupOTELGRPCClient(opts)
	case "http":
		client = setupOTELHTTPClient(opts)
	default:
		log.Fatal("unknown protocol: %s", opts.Output.Protocol)
	}

	exporter, err := otlptrace.New(context.Background(), client)
	if err != nil {
		log.Fatal("failure configuring otel trace exporter: %v", err)
	}

	var bspOpts []sdktrace.BatchSpanProcessorOption
	if opts.Output.BatchTimeout != 0 {
		bspOpts = append(bspOpts, sdktrace.WithBatchTimeout(opts.Output.BatchTimeout))
	}
	if opts.Output.MaxQueueSize != 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxQueueSize(opts.Output.MaxQueueSize))
	}
	if opts.Output.MaxExportBatchSize != 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxExportBatchSize(opts.Output.MaxExportBatchSize))
	}
	if opts.Output.ExportTimeout != 0 {
		bspOpts = append(bspOpts, sdktrace.WithExportTimeout(opts.Output.ExportTimeout))
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.Telemetry.Dataset),
			attribute.String("loadgen.run_id", opts.runID),
		)),
	}
	for _, p := range processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}
	tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter, bspOpts...))
	tp := sdktrace.NewTracerProvider(tpOpts...)

	// exporter failures are the backend's problem; spans keep being created
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("otel: %v", err)
	}))

	return newSenderOTel(tp, func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error("shutting down tracer provider: %v", err)
		}
	})
}

func newSenderOTel(tp trace.TracerProvider, shutdown func()) *SenderOTel {
	return &SenderOTel{
		tracer:   tp.Tracer(ResourceLibrary, trace.WithInstrumentationVersion(ResourceVersion)),
		shutdown: shutdown,
	}
}

func (t *SenderOTel) Close() {
	t.shutdown()
}

func (t *SenderOTel) CreateTrace(ctx context.Context, act *calltree.Activity, fielder *Fielder, count int64) (context.Context, Sendable) {
	ctx, root := t.tracer.Start(ctx, act.Name, trace.WithNewRoot())
	fielder.AddFields(root, act, count, 0)
	return ctx, OTelSendable{root}
}

func (t *SenderOTel) CreateSpan(ctx context.Context, act *calltree.Activity, level int, fielder *Fielder) (context.Context, Sendable) {
	ctx, span := t.tracer.Start(ctx, act.Name)
	fielder.AddFields(span, act, 0, level)
	return ctx, OTelSendable{span}
}

// ImplicitTrace installs a sampled span context that is never recorded, so
// spans started from ctx become children in one fresh trace.
func (t *SenderOTel) ImplicitTrace(ctx context.Context) context.Context {
	var tid trace.TraceID
	var sid trace.SpanID
	fillRandom(tid[:])
	fillRandom(sid[:])
	return trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	}))
}

func fillRandom(b []byte) {
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
}

func setupOTELHTTPClient(opts *Options) otlptrace.Client {
	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.apihost.Host),
		otlptracehttp.WithHeaders(opts.Headers()),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	} else {
		options = append(options, otlptracehttp.WithTLSClientConfig(&tls.Config{}))
	}
	return otlptracehttp.NewClient(options...)
}

func setupOTELGRPCClient(opts *Options) otlptrace.Client {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.apihost.Host),
		otlptracegrpc.WithHeaders(opts.Headers()),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	} else {
		options = append(options, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.NewClient(options...)
}
