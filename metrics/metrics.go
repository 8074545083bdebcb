// Package metrics provides lightweight, lock-free engine counters using
// atomic operations so they impose minimal overhead on hot paths.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the HTTP engine.
//
// All fields are accessed exclusively through atomic operations: there is
// no mutex contention regardless of how many requests run concurrently,
// and the struct may be shared by pointer without extra synchronisation.
type Metrics struct {
	// TotalRequests is the number of requests dispatched since startup,
	// counting each redirect hop once.
	TotalRequests atomic.Uint64

	// Success counts completions with a real (non-pseudo) status.
	Success atomic.Uint64

	// Failed counts completions with a 595–599 pseudo status.
	Failed atomic.Uint64

	// Reuses counts requests served over an idle pooled connection.
	Reuses atomic.Uint64

	// Retries counts the one-shot reconnects after a dead idle connection.
	Retries atomic.Uint64

	// Redirects counts followed redirect hops.
	Redirects atomic.Uint64

	// ActiveConns is the number of connections currently not in the idle
	// pool.
	ActiveConns atomic.Int64

	// IdleConns is the current idle pool population.
	IdleConns atomic.Int64

	// Waiters is the number of requests queued for a per-host slot.
	Waiters atomic.Int64

	// startTime records creation so RequestsPerSecond can compute a rate.
	startTime time.Time
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RequestsPerSecond returns the average request rate since creation.
// Returns 0 if called in the same wall-clock instant as creation to avoid
// division by zero.
func (m *Metrics) RequestsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.TotalRequests.Load()) / elapsed
}

// Snapshot is a point-in-time copy of all counters.  The individual loads
// are not taken under one lock, so values may be inconsistent at
// nanosecond granularity, which is acceptable for monitoring.
type Snapshot struct {
	Total, Success, Failed     uint64
	Reuses, Retries, Redirects uint64
	Active, Idle, Waiters      int64
}

// Snap returns a Snapshot of the current counters.
func (m *Metrics) Snap() Snapshot {
	return Snapshot{
		Total:     m.TotalRequests.Load(),
		Success:   m.Success.Load(),
		Failed:    m.Failed.Load(),
		Reuses:    m.Reuses.Load(),
		Retries:   m.Retries.Load(),
		Redirects: m.Redirects.Load(),
		Active:    m.ActiveConns.Load(),
		Idle:      m.IdleConns.Load(),
		Waiters:   m.Waiters.Load(),
	}
}
