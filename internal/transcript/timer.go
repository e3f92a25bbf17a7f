package transcript

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules and cancels delayed callbacks.
type Timer interface {
	// ScheduleAfter runs fn after delay and returns an ID usable with Cancel.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	// Cancel stops a pending callback. Unknown IDs are ignored.
	Cancel(id string) error
}

// SimpleTimer implements Timer using time.AfterFunc.
type SimpleTimer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*time.Timer)}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)

	t.timers[id] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		slog.Debug("SimpleTimer executing scheduled function", "id", id)
		fn()
	})
	slog.Debug("SimpleTimer ScheduleAfter", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[id]; ok {
		tm.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
	}
	return nil
}

// Pending returns the number of timers that have not fired or been cancelled.
func (t *SimpleTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tm := range t.timers {
		tm.Stop()
	}
	slog.Debug("SimpleTimer stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*time.Timer)
}
