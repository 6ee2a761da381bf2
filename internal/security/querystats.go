package security

import (
	"math"
	"sync/atomic"
	"time"
)

// DefaultSlowQueryThreshold is the latency above which a repository call is
// counted as slow when no threshold is configured.
const DefaultSlowQueryThreshold = 250 * time.Millisecond

// QueryStats tracks repository call latency without locks: running count,
// total time, and max/min maintained with compare-and-swap retry loops, plus
// a count of calls slower than a fixed threshold.
type QueryStats struct {
	count      atomic.Uint64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
	minNanos   atomic.Int64 // math.MaxInt64 until the first observation
	slowCount  atomic.Uint64

	slowThreshold time.Duration
}

// NewQueryStats creates a latency tracker with the given slow-call threshold,
// defaulting when zero.
func NewQueryStats(slowThreshold time.Duration) *QueryStats {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowQueryThreshold
	}
	qs := &QueryStats{slowThreshold: slowThreshold}
	qs.minNanos.Store(math.MaxInt64)
	return qs
}

// Observe records one repository call duration.
func (q *QueryStats) Observe(d time.Duration) {
	nanos := d.Nanoseconds()
	if nanos < 0 {
		nanos = 0
	}

	q.count.Add(1)
	q.totalNanos.Add(nanos)
	if d >= q.slowThreshold {
		q.slowCount.Add(1)
	}

	for {
		cur := q.maxNanos.Load()
		if nanos <= cur || q.maxNanos.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := q.minNanos.Load()
		if nanos >= cur || q.minNanos.CompareAndSwap(cur, nanos) {
			break
		}
	}
}

// QueryStatsSnapshot is a point-in-time view of repository call latency.
type QueryStatsSnapshot struct {
	Count     uint64        `json:"count"`
	Total     time.Duration `json:"total"`
	Avg       time.Duration `json:"avg"`
	Max       time.Duration `json:"max"`
	Min       time.Duration `json:"min"`
	SlowCount uint64        `json:"slow_count"`
}

// Snapshot returns the current aggregates. Min is 0 until the first
// observation.
func (q *QueryStats) Snapshot() QueryStatsSnapshot {
	s := QueryStatsSnapshot{
		Count:     q.count.Load(),
		Total:     time.Duration(q.totalNanos.Load()),
		Max:       time.Duration(q.maxNanos.Load()),
		SlowCount: q.slowCount.Load(),
	}
	if minN := q.minNanos.Load(); minN != math.MaxInt64 {
		s.Min = time.Duration(minN)
	}
	if s.Count > 0 {
		s.Avg = s.Total / time.Duration(s.Count)
	}
	return s
}
