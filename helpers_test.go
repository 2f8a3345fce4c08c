package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// delayFunc lets tests stand in for the clock.
type delayFunc func(ctx context.Context, d time.Duration) error

func (f delayFunc) Delay(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// instant returns straight away, honouring cancellation like the real delayers.
var instant = delayFunc(func(ctx context.Context, d time.Duration) error {
	return ctx.Err()
})

type recordingObserver struct {
	infos []ActivityInfo
}

func (r *recordingObserver) Observe(info ActivityInfo) {
	r.infos = append(r.infos, info)
}

func (r *recordingObserver) byName() map[string]ActivityInfo {
	m := make(map[string]ActivityInfo)
	for _, info := range r.infos {
		m[info.Name] = info
	}
	return m
}

func testLogger(t *testing.T) Logger {
	return newZapLogger(zaptest.NewLogger(t))
}

func newTestSender(t *testing.T, processors ...sdktrace.SpanProcessor) (*SenderOTel, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	opts := []sdktrace.TracerProviderOption{sdktrace.WithSyncer(exporter)}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return newSenderOTel(tp, func() {}), exporter
}

func testFielder(t *testing.T, tree *calltree.Tree) *Fielder {
	t.Helper()
	f, err := NewFielder("test", nil, 0, "test-run", tree.SignatureHex())
	require.NoError(t, err)
	return f
}

func spansByName(spans tracetest.SpanStubs) map[string]tracetest.SpanStub {
	m := make(map[string]tracetest.SpanStub)
	for _, s := range spans {
		m[s.Name] = s
	}
	return m
}

func spanNames(spans tracetest.SpanStubs) []string {
	var names []string
	for _, s := range spans {
		names = append(names, s.Name)
	}
	return names
}

// startCounter feeds cycle numbers until max or the end of the test.
func startCounter(t *testing.T, ctx context.Context, log Logger, max int64) <-chan int64 {
	ctx, cancel := context.WithCancel(ctx)
	counter := make(chan int64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		CycleCounter(ctx, log, max, counter)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return counter
}
