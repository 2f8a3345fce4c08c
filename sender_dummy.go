package main

import (
	"context"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

type DummySendable struct {
	sender *SenderDummy
}

func (s DummySendable) Send() {
	s.sender.ended++
}

// SenderDummy creates no spans at all; it only counts, which makes it
// useful for exercising the workload without a backend.
type SenderDummy struct {
	tracecount int
	spancount  int
	ended      int
	log        Logger
}

// make sure it implements Sender
var _ Sender = (*SenderDummy)(nil)

func NewSenderDummy(log Logger) *SenderDummy {
	return &SenderDummy{log: log}
}

func (t *SenderDummy) Close() {
	t.log.Info("sender sent %d traces with %d spans (%d ended)", t.tracecount, t.spancount, t.ended)
}

func (t *SenderDummy) CreateTrace(ctx context.Context, act *calltree.Activity, fielder *Fielder, count int64) (context.Context, Sendable) {
	t.tracecount++
	t.spancount++
	return ctx, DummySendable{t}
}

func (t *SenderDummy) CreateSpan(ctx context.Context, act *calltree.Activity, level int, fielder *Fielder) (context.Context, Sendable) {
	t.spancount++
	return ctx, DummySendable{t}
}

func (t *SenderDummy) ImplicitTrace(ctx context.Context) context.Context {
	t.tracecount++
	return ctx
}
