package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// Scheduler runs the call tree once per cycle number it receives, pausing
// between cycles.
type Scheduler struct {
	driver    *Driver
	tree      *calltree.Tree
	pause     time.Duration
	keepGoing bool
	clock     Delayer
	metrics   *Metrics
	log       Logger
}

func NewScheduler(driver *Driver, tree *calltree.Tree, metrics *Metrics, log Logger, opts *Options) *Scheduler {
	return &Scheduler{
		driver:    driver,
		tree:      tree,
		pause:     opts.Workload.Pause,
		keepGoing: opts.Quantity.KeepGoing,
		clock:     SleepDelayer{},
		metrics:   metrics,
		log:       log,
	}
}

// Run executes cycles until counter is closed or ctx is done, in which case
// it returns nil once the interrupted cycle has closed its spans.
//
// A cycle that fails for any other reason ends the run with an error unless
// the scheduler was told to keep going, in which case the failure is logged
// and the next cycle starts after the usual pause.
//
// Run locks its goroutine to the current OS thread so that thread-level
// samplers see every cycle on the same thread.
func (s *Scheduler) Run(ctx context.Context, counter <-chan int64) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		var count int64
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case count, ok = <-counter:
			if !ok {
				return nil
			}
		}

		start := time.Now()
		err := s.driver.RunCycle(ctx, s.tree, count)
		elapsed := time.Since(start)
		s.metrics.ObserveCycle(elapsed, err)
		switch {
		case err != nil && ctx.Err() != nil:
			s.log.Info("cycle %d interrupted after %s", count, elapsed)
			return nil
		case err != nil && !s.keepGoing:
			return fmt.Errorf("cycle %d: %w", count, err)
		case err != nil:
			s.log.Error("cycle %d failed after %s: %v", count, elapsed, err)
		default:
			s.log.Debug("cycle %d took %s", count, elapsed)
		}

		if err := s.clock.Delay(ctx, s.pause); err != nil {
			return nil
		}
	}
}
