package lights

import (
	"sync"
	"sync/atomic"
	"time"
)

// Monitor drives the liveness poll loop. Each tick either runs the probe
// callback or is skipped entirely when the paused predicate reports the radio
// is busy; probing mid-scan produces false negatives on most adapters.
//
// Thread Safety:
//   - Start and Close are safe to call from any goroutine. Close is idempotent.
type Monitor struct {
	interval time.Duration
	tick     func()
	paused   func() bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	ticks   atomic.Uint64
	skipped atomic.Uint64
}

// MonitorStats contains counters for observability.
type MonitorStats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
}

// NewMonitor creates a Monitor.
//
// Parameters:
//   - interval: Poll period
//   - tick: Probe callback, run synchronously on the monitor goroutine
//   - paused: Checked before each tick; true skips the tick
func NewMonitor(interval time.Duration, tick func(), paused func() bool) *Monitor {
	return &Monitor{
		interval: interval,
		tick:     tick,
		paused:   paused,
		stop:     make(chan struct{}),
	}
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Close stops the poll loop and waits for an in-flight tick to finish.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

// Stats returns tick counters.
func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Ticks:   m.ticks.Load(),
		Skipped: m.skipped.Load(),
	}
}

// run is the poll loop goroutine.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if m.paused() {
				m.skipped.Add(1)
				continue
			}
			m.ticks.Add(1)
			m.tick()
		}
	}
}
