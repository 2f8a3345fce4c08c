package tracecheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

func newTestAssembler(t *testing.T, requireInferred bool) (*Assembler, *time.Time) {
	t.Helper()
	cfg := Config{Settle: time.Second, Tolerance: 20 * time.Millisecond, RequireInferred: requireInferred}
	tree, err := cfg.LoadTree()
	require.NoError(t, err)
	a := NewAssembler(tree, cfg)
	clock := t0
	a.now = func() time.Time { return clock }
	return a, &clock
}

func TestAssemblerWaitsForSettle(t *testing.T) {
	a, clock := newTestAssembler(t, true)
	a.Add(referenceTrace("t1")...)

	assert.Empty(t, a.Sweep(clock.Add(500*time.Millisecond)))
	assert.Equal(t, 1, a.Pending())

	results := a.Sweep(clock.Add(time.Second))
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].TraceID)
	assert.Equal(t, 6, results[0].Spans)
	assert.True(t, results[0].OK(), results[0].Problems)
	assert.Equal(t, 0, a.Pending())

	passed, failed, late := a.Counts()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, late)
}

func TestAssemblerLateSpansResetIdleTime(t *testing.T) {
	a, clock := newTestAssembler(t, true)
	spans := referenceTrace("t1")
	a.Add(spans[:3]...)

	*clock = clock.Add(800 * time.Millisecond)
	a.Add(spans[3:]...)

	assert.Empty(t, a.Sweep(clock.Add(500*time.Millisecond)), "inferred spans arrived recently")
	results := a.Sweep(clock.Add(time.Second))
	require.Len(t, results, 1)
	assert.True(t, results[0].OK(), results[0].Problems)
}

func TestAssemblerDropsDuplicatesAndLateSpans(t *testing.T) {
	a, clock := newTestAssembler(t, false)
	spans := referenceTrace("t1")
	a.Add(spans...)
	a.Add(spans[0], spans[1])

	results := a.Sweep(clock.Add(time.Second))
	require.Len(t, results, 1)
	assert.Equal(t, 6, results[0].Spans)

	a.Add(Span{TraceID: "t1", SpanID: "55", Name: "straggler", Inferred: true})
	assert.Equal(t, 0, a.Pending())
	_, _, late := a.Counts()
	assert.Equal(t, 1, late)
}

func TestAssemblerGivesUpOnOrphans(t *testing.T) {
	a, clock := newTestAssembler(t, false)
	a.Add(referenceTrace("t1")[1:]...)

	assert.Empty(t, a.Sweep(clock.Add(5*time.Second)))
	results := a.Sweep(clock.Add(10 * time.Second))
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
	assert.Contains(t, results[0].Problems, "root span root never arrived")

	_, failed, _ := a.Counts()
	assert.Equal(t, 1, failed)
}

func TestAssemblerFlushOrdersByArrival(t *testing.T) {
	a, clock := newTestAssembler(t, false)
	a.Add(referenceTrace("b")...)
	*clock = clock.Add(time.Second)
	a.Add(referenceTrace("a")...)

	results := a.Flush()
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].TraceID)
	assert.Equal(t, "a", results[1].TraceID)
}

func TestConfigLoadTreeScales(t *testing.T) {
	tree, err := Config{TimeScale: 0.5}.LoadTree()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, tree.Root().TotalDelay())
	assert.Equal(t, calltree.MustNew(calltree.Reference()).Signature(), tree.Signature())

	_, err = Config{Tree: "does-not-exist.yaml"}.LoadTree()
	assert.Error(t, err)
}

func TestFromOTLP(t *testing.T) {
	req := &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracev1.ResourceSpans{{
			ScopeSpans: []*tracev1.ScopeSpans{{
				Spans: []*tracev1.Span{
					{
						TraceId:           []byte{0xab, 0xcd},
						SpanId:            []byte{0x01},
						Name:              "root",
						StartTimeUnixNano: uint64(t0.UnixNano()),
						EndTimeUnixNano:   uint64(t0.Add(time.Second).UnixNano()),
						Attributes: []*commonv1.KeyValue{
							{Key: SignatureAttr, Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: "feed"}}},
						},
					},
					{
						TraceId:      []byte{0xab, 0xcd},
						SpanId:       []byte{0x02},
						ParentSpanId: []byte{0x01},
						Name:         "middle",
						Attributes: []*commonv1.KeyValue{
							{Key: "is_inferred", Value: &commonv1.AnyValue{Value: &commonv1.AnyValue_BoolValue{BoolValue: true}}},
						},
					},
				},
			}},
		}},
	}

	spans := FromOTLP(req, "is_inferred")
	require.Len(t, spans, 2)
	assert.Equal(t, Span{
		TraceID:   "abcd",
		SpanID:    "01",
		Name:      "root",
		Start:     time.Unix(0, t0.UnixNano()),
		End:       time.Unix(0, t0.Add(time.Second).UnixNano()),
		Signature: "feed",
	}, spans[0])
	assert.Equal(t, "01", spans[1].ParentID)
	assert.True(t, spans[1].Inferred)
	assert.Equal(t, time.Second, spans[0].Duration())
}

func TestRateTracker(t *testing.T) {
	clock := t0
	var reports []string
	rt := newRateTracker(5*time.Second, func(format string, args ...interface{}) {
		reports = append(reports, format)
	}, func() time.Time { return clock })

	rt.TrackSpans(10)
	assert.Empty(t, reports)
	assert.Equal(t, 10.0, rt.Rate(1))

	clock = clock.Add(2 * time.Second)
	rt.TrackSpans(6)
	assert.Equal(t, 6.0, rt.Rate(1))
	assert.Equal(t, 8.0, rt.Rate(10), "only two seconds of data so far")

	clock = clock.Add(3 * time.Second)
	rt.TrackSpans(4)
	assert.Len(t, reports, 1)
	assert.Equal(t, 20, rt.Total())
}
