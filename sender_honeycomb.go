package main

import (
	"context"

	"github.com/honeycombio/beeline-go"
	"github.com/honeycombio/beeline-go/propagation"
	beelinetrace "github.com/honeycombio/beeline-go/trace"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// make sure it implements Sender
var _ Sender = (*SenderHoneycomb)(nil)

type HoneycombSendable struct {
	*beelinetrace.Span
}

func (s HoneycombSendable) Fail(err error) {
	s.AddField("error", err.Error())
}

// SenderHoneycomb sends Honeycomb events through the beeline instead of OTLP.
type SenderHoneycomb struct{}

func NewSenderHoneycomb(opts *Options) *SenderHoneycomb {
	return newSenderHoneycomb(beeline.Config{
		WriteKey:    opts.Telemetry.APIKey,
		APIHost:     opts.apihost.String(),
		ServiceName: opts.Telemetry.Dataset,
		Dataset:     opts.Telemetry.Dataset,
		Debug:       opts.DebugLevel() > 2,
	})
}

func newSenderHoneycomb(cfg beeline.Config) *SenderHoneycomb {
	beeline.Init(cfg)
	return &SenderHoneycomb{}
}

func (t *SenderHoneycomb) Close() {
	beeline.Close()
}

func addFields(span *beelinetrace.Span, fields map[string]any) {
	for k, v := range fields {
		span.AddField(k, v)
	}
}

type implicitTraceKey struct{}

// ImplicitTrace records a trace id and a parent id that no event will have;
// the first span created from ctx starts the trace with them.
func (t *SenderHoneycomb) ImplicitTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, implicitTraceKey{}, &propagation.PropagationContext{
		TraceID:  randID(16),
		ParentID: randID(8),
	})
}

func (t *SenderHoneycomb) CreateTrace(ctx context.Context, act *calltree.Activity, fielder *Fielder, count int64) (context.Context, Sendable) {
	ctx, root := beeline.StartSpan(ctx, act.Name)
	addFields(root, fielder.GetFields(act, count, 0))
	return ctx, HoneycombSendable{root}
}

func (t *SenderHoneycomb) CreateSpan(ctx context.Context, act *calltree.Activity, level int, fielder *Fielder) (context.Context, Sendable) {
	var span *beelinetrace.Span
	prop, implicit := ctx.Value(implicitTraceKey{}).(*propagation.PropagationContext)
	if implicit && beelinetrace.GetSpanFromContext(ctx) == nil {
		var tr *beelinetrace.Trace
		ctx, tr = beelinetrace.NewTrace(ctx, prop)
		span = tr.GetRootSpan()
		span.AddField("name", act.Name)
	} else {
		ctx, span = beeline.StartSpan(ctx, act.Name)
	}
	addFields(span, fielder.GetFields(act, 0, level))
	return ctx, HoneycombSendable{span}
}
