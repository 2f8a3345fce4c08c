package main

import (
	"context"
	"time"
)

// A Delayer blocks the calling goroutine for at least d. It returns early,
// with ctx.Err(), if ctx is done; cancellation is checked before blocking
// even when d is zero.
//
// Delays are the work in the call tree. They must keep the goroutine (and
// the OS thread it is locked to) inside the calling frame for the whole
// interval so that stack samples see the expected frame.
type Delayer interface {
	Delay(ctx context.Context, d time.Duration) error
}

// SleepDelayer parks the goroutine on a timer. Wall-clock samplers see the
// frame; on-CPU profilers do not.
type SleepDelayer struct{}

func (SleepDelayer) Delay(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SpinDelayer burns CPU until the deadline so that on-CPU profilers also
// attribute the interval to the calling frame.
type SpinDelayer struct{}

//go:noinline
func (SpinDelayer) Delay(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(d)
	for i := 0; time.Now().Before(deadline); i++ {
		// poll ctx every 1024 passes
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func NewDelayer(mode string) Delayer {
	if mode == "spin" {
		return SpinDelayer{}
	}
	return SleepDelayer{}
}
