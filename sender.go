package main

import (
	"context"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// Sendable is an open span. Send ends it and must be called exactly once.
type Sendable interface {
	Send()
}

// A Failer is a Sendable that can record why its activity failed. The driver
// calls Fail before Send when an activity returns an error.
type Failer interface {
	Fail(err error)
}

// Sender is the tracing backend. The returned context carries the new span
// as the active one, so spans created from it become its children.
type Sender interface {
	CreateTrace(ctx context.Context, act *calltree.Activity, fielder *Fielder, count int64) (context.Context, Sendable)
	CreateSpan(ctx context.Context, act *calltree.Activity, level int, fielder *Fielder) (context.Context, Sendable)
	// ImplicitTrace returns a context carrying a new trace but no span of its
	// own. It stands in for the root span when the root activity is
	// invisible, so the cycle's spans still share one trace.
	ImplicitTrace(ctx context.Context) context.Context
	Close()
}
