// Package tracecheck verifies received traces against the call tree that
// produced them. It is shared by the OTLP sinks.
package tracecheck

import (
	"encoding/hex"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
)

// SignatureAttr is set on root spans by the generator to identify the tree
// shape that produced the trace.
const SignatureAttr = "calltree.signature"

// Span is the part of a received span that verification needs. IDs are
// lowercase hex.
type Span struct {
	TraceID   string
	SpanID    string
	ParentID  string
	Name      string
	Start     time.Time
	End       time.Time
	Inferred  bool
	Signature string
}

func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// FromOTLP flattens an export request. A span counts as inferred when it
// carries inferredAttr with a true value.
func FromOTLP(req *collectortrace.ExportTraceServiceRequest, inferredAttr string) []Span {
	var out []Span
	for _, resource := range req.GetResourceSpans() {
		for _, scope := range resource.GetScopeSpans() {
			for _, span := range scope.GetSpans() {
				s := Span{
					TraceID:  hex.EncodeToString(span.GetTraceId()),
					SpanID:   hex.EncodeToString(span.GetSpanId()),
					ParentID: hex.EncodeToString(span.GetParentSpanId()),
					Name:     span.GetName(),
					Start:    unixNano(span.GetStartTimeUnixNano()),
					End:      unixNano(span.GetEndTimeUnixNano()),
				}
				for _, kv := range span.GetAttributes() {
					switch kv.GetKey() {
					case inferredAttr:
						s.Inferred = truthy(kv.GetValue())
					case SignatureAttr:
						s.Signature = kv.GetValue().GetStringValue()
					}
				}
				out = append(out, s)
			}
		}
	}
	return out
}

func unixNano(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

func truthy(v *commonv1.AnyValue) bool {
	switch v.GetValue().(type) {
	case *commonv1.AnyValue_BoolValue:
		return v.GetBoolValue()
	case *commonv1.AnyValue_StringValue:
		return v.GetStringValue() == "true"
	case *commonv1.AnyValue_IntValue:
		return v.GetIntValue() != 0
	}
	return false
}
