package tracecheck

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustHex(t *testing.T, s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func toOTLP(t *testing.T, spans []Span) *collectortrace.ExportTraceServiceRequest {
	var out []*tracev1.Span
	for _, s := range spans {
		var attrs []*commonv1.KeyValue
		if s.Signature != "" {
			attrs = append(attrs, &commonv1.KeyValue{Key: SignatureAttr,
				Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: s.Signature}}})
		}
		if s.Inferred {
			attrs = append(attrs, &commonv1.KeyValue{Key: "is_inferred",
				Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_BoolValue{BoolValue: true}}})
		}
		out = append(out, &tracev1.Span{
			TraceId:           mustHex(t, s.TraceID),
			SpanId:            mustHex(t, s.SpanID),
			ParentSpanId:      mustHex(t, s.ParentID),
			Name:              s.Name,
			StartTimeUnixNano: uint64(s.Start.UnixNano()),
			EndTimeUnixNano:   uint64(s.End.UnixNano()),
			Attributes:        attrs,
		})
	}
	return &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracev1.ResourceSpans{{ScopeSpans: []*tracev1.ScopeSpans{{Spans: out}}}},
	}
}

func TestSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink, err := NewSink(Config{TimeScale: 1, Tolerance: 20 * time.Millisecond, InferredAttr: "is_inferred", RequireInferred: true}, zap.New(core).Sugar())
	require.NoError(t, err)

	good := referenceTrace("aa01")
	assert.Equal(t, 6, sink.Receive(toOTLP(t, good)))
	// a trace missing child-2
	bad := referenceTrace("bb02")
	assert.Equal(t, 2, sink.Receive(toOTLP(t, bad[:2])))

	passed, failed := sink.Close()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, failed)

	assert.Equal(t, 1, logs.FilterMessage("trace ok").Len())
	failures := logs.FilterMessage("trace failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "bb02", failures[0].ContextMap()["trace_id"])
	assert.Equal(t, 1, logs.FilterMessageSnippet("1 traces passed, 1 failed").Len())
}

func TestNewSinkBadTree(t *testing.T) {
	_, err := NewSink(Config{Tree: "does-not-exist.yaml"}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
