package main

import "context"

// CycleCounter sends an incrementing cycle number on output, stopping when it
// has sent maxcount values or when ctx is done, and closes output on the way
// out. If maxcount is 0 it runs until ctx is done.
// It returns true if it stopped because ctx was done, false otherwise.
func CycleCounter(ctx context.Context, log Logger, maxcount int64, output chan<- int64) bool {
	var count int64

	defer func() {
		close(output)
		log.Info("cycle counter exiting after %d cycles", count)
	}()

	for {
		if maxcount > 0 && count >= maxcount {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case output <- count + 1:
			count++
		}
	}
}
