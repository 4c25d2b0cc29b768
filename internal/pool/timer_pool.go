// Package pool keeps reusable timers for the hot loops of the engine.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer armed for d, taken from the pool when possible.
//
// Return the timer with PutTimer once it is no longer needed.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		// Since Go 1.23 Reset discards any stale value, no draining required.
		t.Reset(d)

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool.
//
// t must not be used after it is returned.
func PutTimer(t *time.Timer) {
	t.Stop()
	timerPool.Put(t)
}

// Sleep blocks for d or until one of the done channels is closed or receives.
// It reports true when the full duration elapsed.
//
// A nil channel in done is ignored, which lets callers disable a wake-up
// source without changing the call site.
func Sleep(d time.Duration, done ...<-chan struct{}) bool {
	if d <= 0 {
		return true
	}

	t := GetTimer(d)
	defer PutTimer(t)

	var a, b <-chan struct{}
	switch len(done) {
	case 0:
	case 1:
		a = done[0]
	default:
		a, b = done[0], done[1]
	}

	select {
	case <-t.C:
		return true
	case <-a:
		return false
	case <-b:
		return false
	}
}
