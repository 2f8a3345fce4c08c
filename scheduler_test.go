package main

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

func testScheduler(t *testing.T, tree *calltree.Tree, sender Sender, delayer Delayer, keepGoing bool) (*Scheduler, *Metrics) {
	t.Helper()
	opts := newOptions()
	opts.Workload.Pause = 0
	opts.Quantity.KeepGoing = keepGoing
	metrics := NewMetrics(prometheus.NewRegistry())
	driver := NewDriver(sender, testFielder(t, tree), delayer, metrics)
	return NewScheduler(driver, tree, metrics, testLogger(t), opts), metrics
}

// shapes reduces each trace to a sorted list of parent->child edges.
func shapes(spans tracetest.SpanStubs) map[trace.TraceID][]string {
	names := make(map[trace.SpanID]string)
	for _, s := range spans {
		names[s.SpanContext.SpanID()] = s.Name
	}
	out := make(map[trace.TraceID][]string)
	for _, s := range spans {
		id := s.SpanContext.TraceID()
		out[id] = append(out[id], names[s.Parent.SpanID()]+"->"+s.Name)
	}
	for _, edges := range out {
		sort.Strings(edges)
	}
	return out
}

func TestSchedulerRunsIdenticalCycles(t *testing.T) {
	tree := calltree.MustNew(calltree.Reference())
	sender, exporter := newTestSender(t)
	sched, metrics := testScheduler(t, tree, sender, instant, false)
	log := testLogger(t)

	counter := startCounter(t, context.Background(), log, 3)
	require.NoError(t, sched.Run(context.Background(), counter))

	spans := exporter.GetSpans()
	require.Len(t, spans, 9)
	traces := shapes(spans)
	require.Len(t, traces, 3)
	want := []string{"->root", "root->child-1", "root->child-2"}
	for id, edges := range traces {
		assert.Equal(t, want, edges, "trace %s", id)
	}

	var cycles []int64
	for _, s := range spans {
		if s.Name != "root" {
			continue
		}
		for _, kv := range s.Attributes {
			if kv.Key == attribute.Key("cycle") {
				cycles = append(cycles, kv.Value.AsInt64())
			}
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, cycles)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Cycles.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Cycles.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Activities.WithLabelValues("middle", "invisible")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Activities.WithLabelValues("child-2", "instrumented")))
}

func TestSchedulerFailedCycleEndsRun(t *testing.T) {
	tree := calltree.MustNew(calltree.Reference())
	boom := errors.New("boom")
	failing := delayFunc(func(ctx context.Context, d time.Duration) error {
		if d == 400*time.Millisecond {
			return boom
		}
		return ctx.Err()
	})
	sender := NewSenderDummy(testLogger(t))
	sched, metrics := testScheduler(t, tree, sender, failing, false)

	counter := startCounter(t, context.Background(), testLogger(t), 0)
	err := sched.Run(context.Background(), counter)
	require.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "cycle 1: boom")
	assert.Equal(t, sender.spancount, sender.ended)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Cycles.WithLabelValues("error")))
}

func TestSchedulerKeepGoing(t *testing.T) {
	tree := calltree.MustNew(calltree.Reference())
	failing := delayFunc(func(ctx context.Context, d time.Duration) error {
		if d == 200*time.Millisecond {
			return errors.New("boom")
		}
		return ctx.Err()
	})
	sender := NewSenderDummy(testLogger(t))
	sched, metrics := testScheduler(t, tree, sender, failing, true)

	counter := startCounter(t, context.Background(), testLogger(t), 2)
	require.NoError(t, sched.Run(context.Background(), counter))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Cycles.WithLabelValues("error")))
	assert.Equal(t, 2, sender.tracecount)
	assert.Equal(t, sender.spancount, sender.ended)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	tree := calltree.MustNew(calltree.Reference())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// interrupted inside child-1 of the first cycle
	delayer := delayFunc(func(dctx context.Context, d time.Duration) error {
		if d == 200*time.Millisecond {
			cancel()
		}
		return dctx.Err()
	})
	sender, exporter := newTestSender(t)
	sched, metrics := testScheduler(t, tree, sender, delayer, false)
	counter := startCounter(t, ctx, testLogger(t), 0)

	require.NoError(t, sched.Run(ctx, counter))

	spans := exporter.GetSpans()
	require.Equal(t, []string{"child-1", "root"}, spanNames(spans))
	for _, s := range spans {
		assert.False(t, s.EndTime.IsZero())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Cycles.WithLabelValues("error")))
}

func TestSchedulerRealClock(t *testing.T) {
	tree := calltree.MustNew(calltree.Reference()).Scaled(0.02)
	sender, exporter := newTestSender(t)
	sched, _ := testScheduler(t, tree, sender, SleepDelayer{}, false)
	sched.pause = 10 * time.Millisecond
	counter := startCounter(t, context.Background(), testLogger(t), 2)

	start := time.Now()
	require.NoError(t, sched.Run(context.Background(), counter))
	// two 20ms cycles and two pauses
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Len(t, exporter.GetSpans(), 6)
}

func TestSchedulerClosedCounter(t *testing.T) {
	tree := calltree.MustNew(calltree.Reference())
	sender := NewSenderDummy(testLogger(t))
	sched, _ := testScheduler(t, tree, sender, instant, false)

	counter := make(chan int64)
	close(counter)
	require.NoError(t, sched.Run(context.Background(), counter))
	assert.Equal(t, 0, sender.tracecount)
}
