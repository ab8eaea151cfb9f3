package lights

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/level451/neewerctl/internal/ble"
)

// mockAdapter implements ble.Adapter for tests. Each scan returns the
// handles currently registered as advertising.
type mockAdapter struct {
	mu          sync.Mutex
	advertising map[string]*mockHandle

	scanCalls atomic.Int32
	scanDelay time.Duration
	scanErr   error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		advertising: make(map[string]*mockHandle),
	}
}

func (a *mockAdapter) advertise(h *mockHandle) {
	a.mu.Lock()
	a.advertising[h.id] = h
	a.mu.Unlock()
}

func (a *mockAdapter) vanish(id string) {
	a.mu.Lock()
	delete(a.advertising, id)
	a.mu.Unlock()
}

func (a *mockAdapter) Discover(ctx context.Context, window time.Duration, earlyStop map[string]struct{}) ([]ble.DeviceHandle, error) {
	a.scanCalls.Add(1)

	if a.scanDelay > 0 {
		select {
		case <-time.After(a.scanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.scanErr != nil {
		return nil, a.scanErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	handles := make([]ble.DeviceHandle, 0, len(a.advertising))
	for _, h := range a.advertising {
		handles = append(handles, h)
	}
	return handles, nil
}

// mockHandle implements ble.DeviceHandle with failure injection and
// concurrency accounting.
type mockHandle struct {
	id   string
	name string
	rssi int

	connectErr   error
	connectDelay time.Duration
	writeErr     error
	probeErr     atomic.Value // error

	connected  atomic.Bool
	writes     [][]byte
	writesMu   sync.Mutex
	onDrop     func()
	dropMu     sync.Mutex
	inFlight   *atomic.Int32 // shared across handles: concurrent Connects
	maxSeen    *atomic.Int32
	disconnect atomic.Int32
}

func newMockHandle(id string, inFlight, maxSeen *atomic.Int32) *mockHandle {
	return &mockHandle{
		id:       id,
		name:     "mock-" + id,
		rssi:     -60,
		inFlight: inFlight,
		maxSeen:  maxSeen,
	}
}

func (h *mockHandle) setProbeErr(err error) { h.probeErr.Store(&err) }

func (h *mockHandle) ID() string   { return h.id }
func (h *mockHandle) Name() string { return h.name }
func (h *mockHandle) RSSI() int    { return h.rssi }

func (h *mockHandle) Connect(ctx context.Context) error {
	if h.inFlight != nil {
		n := h.inFlight.Add(1)
		for {
			seen := h.maxSeen.Load()
			if n <= seen || h.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		defer h.inFlight.Add(-1)
	}

	if h.connectDelay > 0 {
		select {
		case <-time.After(h.connectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if h.connectErr != nil {
		return h.connectErr
	}

	h.connected.Store(true)
	return nil
}

func (h *mockHandle) Disconnect() error {
	h.connected.Store(false)
	h.disconnect.Add(1)
	return nil
}

func (h *mockHandle) Write(ctx context.Context, data []byte) error {
	if !h.connected.Load() {
		return ble.ErrNotConnected
	}
	if h.writeErr != nil {
		return h.writeErr
	}
	h.writesMu.Lock()
	h.writes = append(h.writes, append([]byte(nil), data...))
	h.writesMu.Unlock()
	return nil
}

func (h *mockHandle) writeCount() int {
	h.writesMu.Lock()
	defer h.writesMu.Unlock()
	return len(h.writes)
}

func (h *mockHandle) Subscribe(onNotify func(data []byte)) error {
	if !h.connected.Load() {
		return ble.ErrNotConnected
	}
	return nil
}

func (h *mockHandle) ReadProbe(ctx context.Context) error {
	if !h.connected.Load() {
		return ble.ErrNotConnected
	}
	if v := h.probeErr.Load(); v != nil {
		if err := *(v.(*error)); err != nil {
			return err
		}
	}
	return nil
}

func (h *mockHandle) SetOnLinkDropped(fn func()) {
	h.dropMu.Lock()
	h.onDrop = fn
	h.dropMu.Unlock()
}

// dropLink simulates an adapter-reported disconnect.
func (h *mockHandle) dropLink() {
	h.connected.Store(false)
	h.dropMu.Lock()
	fn := h.onDrop
	h.onDrop = nil
	h.dropMu.Unlock()
	if fn != nil {
		fn()
	}
}

var errInjected = errors.New("injected failure")

// waitFor polls cond until it is true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
