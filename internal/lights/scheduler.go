package lights

import (
	"sync"
	"time"
)

// Scheduler arms reconnect timers, holding at most one pending timer per
// light. Scheduling a light that already has a pending timer supersedes it:
// the most recent schedule wins, so overlapping failure paths (probe miss,
// link drop, sweep) cannot stack retries for the same device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scheduler struct {
	interval time.Duration
	fire     func(id string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewScheduler creates a Scheduler.
//
// Parameters:
//   - interval: Default delay for Schedule
//   - fire: Invoked on the timer goroutine when a timer elapses; must not block
func NewScheduler(interval time.Duration, fire func(id string)) *Scheduler {
	return &Scheduler{
		interval: interval,
		fire:     fire,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule arms a reconnect for id after the default interval, cancelling
// any timer already pending for the same id.
//
// Returns:
//   - bool: true if the timer was armed, false if the scheduler is closed
func (s *Scheduler) Schedule(id string) bool {
	return s.ScheduleAfter(id, s.interval)
}

// ScheduleAfter arms a reconnect for id after an explicit delay.
func (s *Scheduler) ScheduleAfter(id string, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if prior, pending := s.timers[id]; pending {
		prior.Stop()
	}

	// The callback checks it still owns the map entry: a superseded timer
	// that already started firing when it was stopped must not fire again.
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || s.timers[id] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()

		s.fire(id)
	})
	s.timers[id] = t
	return true
}

// Cancel stops a pending timer for id, if any.
//
// Returns:
//   - bool: true if a timer was pending and is now cancelled
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, pending := s.timers[id]
	if !pending {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// Pending reports whether a timer is armed for id.
func (s *Scheduler) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.timers[id]
	return pending
}

// PendingCount returns the number of armed timers.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every pending timer and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
