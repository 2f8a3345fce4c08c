package tracecheck

import (
	"sync"
	"time"
)

// RateTracker tracks spans received per second and periodically reports the
// recent rates.
type RateTracker struct {
	mu             sync.Mutex
	spanCounts     map[int64]int // unix second -> spans received in it
	startTime      time.Time
	totalSpans     int
	lastReportTime time.Time
	reportInterval time.Duration
	report         func(format string, args ...interface{})
	now            func() time.Time
}

// rates older than this are never asked for, so their buckets are dropped
const rateWindow = 60

func NewRateTracker(interval time.Duration, report func(format string, args ...interface{})) *RateTracker {
	return newRateTracker(interval, report, time.Now)
}

func newRateTracker(interval time.Duration, report func(format string, args ...interface{}), now func() time.Time) *RateTracker {
	start := now()
	return &RateTracker{
		spanCounts:     make(map[int64]int),
		startTime:      start,
		lastReportTime: start,
		reportInterval: interval,
		report:         report,
		now:            now,
	}
}

// TrackSpans adds count spans to the current second.
func (t *RateTracker) TrackSpans(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := now.Unix()
	t.spanCounts[key] += count
	t.totalSpans += count

	if now.Sub(t.lastReportTime) >= t.reportInterval {
		for ts := range t.spanCounts {
			if ts < key-rateWindow {
				delete(t.spanCounts, ts)
			}
		}
		t.report("spans per second: %.2f (1s) | %.2f (10s) | %.2f (60s) | total: %d",
			t.rate(now, 1), t.rate(now, 10), t.rate(now, 60), t.totalSpans)
		t.lastReportTime = now
	}
}

// Rate returns the average spans per second over the last n seconds.
func (t *RateTracker) Rate(seconds int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate(t.now(), seconds)
}

func (t *RateTracker) rate(now time.Time, seconds int) float64 {
	cutoff := now.Add(-time.Duration(seconds) * time.Second).Unix()
	var total int
	for ts, count := range t.spanCounts {
		if ts > cutoff {
			total += count
		}
	}

	// with less than n seconds of data, divide by what we have
	actual := int64(seconds)
	if elapsed := now.Unix() - t.startTime.Unix(); elapsed < actual {
		actual = elapsed
		if actual == 0 {
			actual = 1
		}
	}
	return float64(total) / float64(actual)
}

func (t *RateTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSpans
}
