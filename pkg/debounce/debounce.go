// Package debounce provides a single-shot settle timer. Each Trigger call
// cancels the previous pending fire, so at most one apply is pending per
// dependency epoch.
package debounce

import (
	"sync"
	"time"
)

// Timer debounces a function call behind a fixed delay.
type Timer struct {
	delay time.Duration

	mu      sync.Mutex
	pending *time.Timer
}

// New creates a timer with the given settle delay.
func New(delay time.Duration) *Timer {
	return &Timer{delay: delay}
}

// Trigger schedules fn after the settle delay, cancelling any previously
// scheduled call that has not fired yet.
func (t *Timer) Trigger(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
	}
	t.pending = time.AfterFunc(t.delay, fn)
}

// Stop cancels the pending call, if any.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
