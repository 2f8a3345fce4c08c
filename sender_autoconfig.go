package main

import (
	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewSenderAutoconfig lets otel-config-go build the SDK from OTEL_* and
// HONEYCOMB_* environment variables, with the command line filling in the
// endpoint, headers and service name. otel-config-go installs a global
// provider; it is read once here and injected like any other.
func NewSenderAutoconfig(log Logger, opts *Options, processors ...sdktrace.SpanProcessor) *SenderOTel {
	protocol := otelconfig.ProtocolGRPC
	if opts.Output.Protocol == "http" {
		protocol = otelconfig.ProtocolHTTPProto
	}
	shutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(opts.Telemetry.Dataset),
		otelconfig.WithServiceVersion(ResourceVersion),
		otelconfig.WithExporterEndpoint(opts.apihost.Host),
		otelconfig.WithExporterInsecure(opts.Telemetry.Insecure),
		otelconfig.WithExporterProtocol(protocol),
		otelconfig.WithHeaders(opts.Headers()),
		otelconfig.WithResourceAttributes(map[string]string{"loadgen.run_id": opts.runID}),
		otelconfig.WithMetricsEnabled(false),
		otelconfig.WithSpanProcessor(processors...),
	)
	if err != nil {
		log.Fatal("failure configuring otel from the environment: %v", err)
	}
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("otel: %v", err)
	}))
	return newSenderOTel(otel.GetTracerProvider(), shutdown)
}
