package main

import (
	"context"
	"runtime/pprof"
	"time"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// ActivityInfo describes one completed execution of an activity.
type ActivityInfo struct {
	Name  string
	Path  string
	Kind  calltree.Kind
	Level int
	Start time.Time
	End   time.Time
	Err   error
}

// ActivityObserver is told about every activity after it returns, whether or
// not it was instrumented. Children are reported before their parents.
type ActivityObserver interface {
	Observe(info ActivityInfo)
}

type nopObserver struct{}

func (nopObserver) Observe(ActivityInfo) {}

// Driver executes call trees. Everything happens on the calling goroutine:
// children run one after another, so a stack sample taken at any moment
// shows exactly one path from the root to the running activity.
type Driver struct {
	sender   Sender
	fielder  *Fielder
	delayer  Delayer
	observer ActivityObserver
}

func NewDriver(sender Sender, fielder *Fielder, delayer Delayer, observer ActivityObserver) *Driver {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Driver{
		sender:   sender,
		fielder:  fielder,
		delayer:  delayer,
		observer: observer,
	}
}

// RunCycle executes the whole tree once, producing one trace. count is the
// cycle number recorded on the trace's root span.
//
// An invisible root has no span, so the cycle runs in an implicit trace
// context instead and its top-level spans share that trace.
//
// If ctx is cancelled part way through, every span that was started is
// ended before RunCycle returns the cancellation error.
func (d *Driver) RunCycle(ctx context.Context, tree *calltree.Tree, count int64) error {
	root := tree.Root()
	if root.Kind == calltree.KindInvisible {
		ctx = d.sender.ImplicitTrace(ctx)
	}
	return d.run(ctx, root, "", 0, count)
}

func (d *Driver) run(ctx context.Context, act *calltree.Activity, parentPath string, level int, count int64) error {
	path := act.Name
	if parentPath != "" {
		path = parentPath + "/" + act.Name
	}
	if act.Kind == calltree.KindInvisible {
		return d.execute(ctx, act, path, level, count)
	}
	return d.withSpan(ctx, act, level, count, func(ctx context.Context) error {
		return d.execute(ctx, act, path, level, count)
	})
}

// withSpan runs fn with a span for act as the active span in its context.
// The span is ended on every way out of fn, panics included; an error from
// fn is recorded on the span first and then returned unchanged.
func (d *Driver) withSpan(ctx context.Context, act *calltree.Activity, level int, count int64, fn func(context.Context) error) (err error) {
	var span Sendable
	if level == 0 {
		ctx, span = d.sender.CreateTrace(ctx, act, d.fielder, count)
	} else {
		ctx, span = d.sender.CreateSpan(ctx, act, level, d.fielder)
	}
	defer func() {
		if err != nil {
			if f, ok := span.(Failer); ok {
				f.Fail(err)
			}
		}
		span.Send()
	}()
	return fn(ctx)
}

// execute performs the activity's own delay and then its children. The
// goroutine carries pprof labels naming the activity and its path while it
// does, so profiles and goroutine dumps attribute samples to the activity
// even though every level shares the same Go functions.
func (d *Driver) execute(ctx context.Context, act *calltree.Activity, path string, level int, count int64) (err error) {
	start := time.Now()
	defer func() {
		d.observer.Observe(ActivityInfo{
			Name:  act.Name,
			Path:  path,
			Kind:  act.Kind,
			Level: level,
			Start: start,
			End:   time.Now(),
			Err:   err,
		})
	}()

	pprof.Do(ctx, pprof.Labels("activity", act.Name, "activity.path", path), func(ctx context.Context) {
		if err = d.delayer.Delay(ctx, act.SelfDelay); err != nil {
			return
		}
		for _, child := range act.Children {
			if err = d.run(ctx, child, path, level+1, count); err != nil {
				return
			}
		}
	})
	return err
}
