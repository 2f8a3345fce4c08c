package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"

	"github.com/honeycombio/inferred-loadgen/internal/tracecheck"
)

func TestExport(t *testing.T) {
	sink, err := tracecheck.NewSink(tracecheck.Config{TimeScale: 1}, zap.NewNop().Sugar())
	require.NoError(t, err)
	srv := &TraceServer{sink: sink}

	resp, err := srv.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracev1.ResourceSpans{{
			ScopeSpans: []*tracev1.ScopeSpans{{
				Spans: []*tracev1.Span{{TraceId: []byte{9}, SpanId: []byte{1}, Name: "root"}},
			}},
		}},
	})
	require.NoError(t, err)
	assert.NotNil(t, resp)

	passed, failed := sink.Close()
	assert.Equal(t, 0, passed)
	assert.Equal(t, 1, failed)
}
