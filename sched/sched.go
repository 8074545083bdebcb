// Package sched provides cancellable timer guards.
//
// The engine schedules deferred work in exactly one shape: "run fn after
// d unless something happens first".  A Timer wraps time.AfterFunc with
// an idempotent Cancel so the holder can drop it from any code path
// without tracking whether it already fired.
package sched

import (
	"sync"
	"time"
)

// Timer is a guard for one scheduled function.  Dropping the guard
// without calling Cancel lets the function fire.
type Timer struct {
	t    *time.Timer
	once sync.Once
}

// After schedules fn to run in its own goroutine after d.
func After(d time.Duration, fn func()) *Timer {
	return &Timer{t: time.AfterFunc(d, fn)}
}

// Cancel stops the timer.  It is idempotent and safe to call
// concurrently with the timer firing; it reports whether the call
// prevented the function from running.
func (g *Timer) Cancel() bool {
	stopped := false
	g.once.Do(func() {
		stopped = g.t.Stop()
	})
	return stopped
}
