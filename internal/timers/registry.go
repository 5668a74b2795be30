// Package timers keeps the live timers behind the opaque handles stored in
// session state.
package timers

import (
	"sync"
	"time"

	"github.com/DoyleJ11/pugbot/internal/engine"
)

type Registry struct {
	mu     sync.Mutex
	timers map[engine.TimerHandle]*time.Timer
}

func NewRegistry() *Registry {
	return &Registry{timers: make(map[engine.TimerHandle]*time.Timer)}
}

// Start arms fn to run once after d. Starting an existing handle replaces it.
func (r *Registry) Start(h engine.TimerHandle, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[h]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		current, ok := r.timers[h]
		if !ok || current != t {
			// Cancelled or replaced while this fire was in flight.
			r.mu.Unlock()
			return
		}
		delete(r.timers, h)
		r.mu.Unlock()
		fn()
	})
	r.timers[h] = t
}

// Cancel stops the timer and reports whether it was still pending.
func (r *Registry) Cancel(h engine.TimerHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[h]
	if !ok {
		return false
	}
	delete(r.timers, h)
	t.Stop()
	return true
}

func (r *Registry) Pending(h engine.TimerHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[h]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// StopAll cancels every pending timer.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, t := range r.timers {
		t.Stop()
		delete(r.timers, h)
	}
}
