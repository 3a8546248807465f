// Package alarm owns the reminder schedule: a registry of named one-shot
// timers plus the scheduler that keeps the live timer and the persisted
// schedule in agreement.
package alarm

import (
	"log/slog"
	"sync"
	"time"
)

// FireFunc is invoked, on its own goroutine, when a timer fires.
type FireFunc func(name string)

type timerEntry struct {
	fireAt time.Time
	timer  *time.Timer
}

// Registry holds the process's named one-shot timers. Creating a timer
// under an existing name replaces it, so a name can never fire twice.
type Registry struct {
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*timerEntry

	// now is replaceable in tests.
	now func() time.Time
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "timers"),
		timers: make(map[string]*timerEntry),
		now:    time.Now,
	}
}

// Create arms a timer that calls fn(name) at fireAt. A fireAt in the
// past fires immediately. Any existing timer under name is stopped first.
func (r *Registry) Create(name string, fireAt time.Time, fn FireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[name]; ok {
		existing.timer.Stop()
	}

	delay := max(fireAt.Sub(r.now()), 0)
	entry := &timerEntry{fireAt: fireAt}
	entry.timer = time.AfterFunc(delay, func() {
		r.fire(name, entry, fn)
	})
	r.timers[name] = entry

	r.logger.Debug("timer armed", "name", name, "fire_at", fireAt)
}

// fire delivers a timer callback. The callback only runs if its entry is
// still the registered one: a replacement or Clear may have raced the
// runtime past Stop, and such a superseded timer must stay silent.
func (r *Registry) fire(name string, entry *timerEntry, fn FireFunc) {
	r.mu.Lock()
	cur, ok := r.timers[name]
	won := ok && cur == entry
	if won {
		delete(r.timers, name)
	}
	r.mu.Unlock()

	if won {
		fn(name)
	}
}

// Get reports the fire time of a pending timer.
func (r *Registry) Get(name string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.timers[name]
	if !ok {
		return time.Time{}, false
	}
	return entry.fireAt, true
}

// Clear stops and removes a pending timer, reporting whether one existed.
func (r *Registry) Clear(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.timers[name]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(r.timers, name)
	r.logger.Debug("timer cleared", "name", name)
	return true
}

// ClearAll stops every pending timer. Used during shutdown.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entry := range r.timers {
		entry.timer.Stop()
		delete(r.timers, name)
	}
}
