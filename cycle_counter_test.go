package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCycleCounterStopsAtMax(t *testing.T) {
	out := make(chan int64)
	stopped := make(chan bool)
	go func() { stopped <- CycleCounter(context.Background(), testLogger(t), 3, out) }()

	var got []int64
	for n := range out {
		got = append(got, n)
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
	assert.False(t, <-stopped)
}

func TestCycleCounterStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan int64)
	stopped := make(chan bool)
	go func() { stopped <- CycleCounter(ctx, testLogger(t), 0, out) }()

	assert.Equal(t, int64(1), <-out)
	assert.Equal(t, int64(2), <-out)
	cancel()
	assert.True(t, <-stopped)
	_, ok := <-out
	assert.False(t, ok)
}
