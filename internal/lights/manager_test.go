package lights

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/level451/neewerctl/internal/infrastructure/config"
	"github.com/level451/neewerctl/internal/neewer"
)

const (
	macA = "aa:bb:cc:dd:ee:01"
	macB = "aa:bb:cc:dd:ee:02"
	macC = "aa:bb:cc:dd:ee:03"
	macD = "aa:bb:cc:dd:ee:04"
)

// testBLEConfig returns tunables scaled down for tests. The sweep interval
// stays long so tests exercise timers, not the backstop.
func testBLEConfig() config.BLEConfig {
	return config.BLEConfig{
		ScanWindow:            100 * time.Millisecond,
		ConnectTimeout:        time.Second,
		ProbeTimeout:          200 * time.Millisecond,
		MaxConcurrentConnects: 2,
		ReconnectInterval:     30 * time.Millisecond,
		PollInterval:          25 * time.Millisecond,
		SweepInterval:         time.Hour,
		StartupStagger:        time.Millisecond,
	}
}

func lightConfigs(macs ...string) []config.LightConfig {
	cfgs := make([]config.LightConfig, 0, len(macs))
	for i, mac := range macs {
		cfgs = append(cfgs, config.LightConfig{
			// Upper-case on purpose: the manager must normalise.
			MAC:  strings.ToUpper(mac),
			Name: "Light " + string(rune('A'+i)),
		})
	}
	return cfgs
}

func (m *Manager) stateOf(mac string) ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lights[mac].state
}

func TestManagerConnectsAllWithinGateCapacity(t *testing.T) {
	adapter := newMockAdapter()
	adapter.scanDelay = 50 * time.Millisecond

	var inFlight, maxSeen atomic.Int32
	macs := []string{macA, macB, macC, macD}
	for _, mac := range macs {
		h := newMockHandle(mac, &inFlight, &maxSeen)
		h.connectDelay = 30 * time.Millisecond
		adapter.advertise(h)
	}

	m := NewManager(testBLEConfig(), lightConfigs(macs...), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if !waitFor(3*time.Second, func() bool {
		return m.Status().Connected == len(macs)
	}) {
		t.Fatalf("not all lights connected: %+v", m.Status())
	}

	if got := maxSeen.Load(); got > 2 {
		t.Fatalf("observed %d concurrent connects, gate capacity is 2", got)
	}
	if got := adapter.scanCalls.Load(); got != 1 {
		t.Fatalf("startup used %d scans, want 1 coalesced scan", got)
	}
}

func TestManagerNeverDiscoveredStaysUnresolved(t *testing.T) {
	adapter := newMockAdapter()

	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Initialize settles the first attempt: a scan that finds nothing must
	// leave the light Unresolved (not Disconnected) with a retry armed.
	if got := m.stateOf(macA); got != StateUnresolved {
		t.Fatalf("state after discovery miss = %v, want unresolved", got)
	}
	if !m.scheduler.Pending(macA) {
		t.Fatal("no reconnect armed after discovery miss")
	}

	st := m.Status()
	if st.Lights[0].LastError == "" {
		t.Fatal("expected last_error to record the discovery miss")
	}

	// Once the light starts advertising, the retry loop picks it up.
	adapter.advertise(newMockHandle(macA, nil, nil))
	if !waitFor(3*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected
	}) {
		t.Fatal("light never connected after it began advertising")
	}
}

func TestManagerProbeFailureDemotesExactlyOnce(t *testing.T) {
	adapter := newMockAdapter()
	h := newMockHandle(macA, nil, nil)
	adapter.advertise(h)

	cfg := testBLEConfig()
	cfg.ReconnectInterval = time.Hour // keep the retry out of this test

	m := NewManager(cfg, lightConfigs(macA), adapter)
	defer m.Close()

	var snapMu sync.Mutex
	var disconnectedSnaps []LightStatus
	m.SetOnChange(func(st Status) {
		snapMu.Lock()
		defer snapMu.Unlock()
		if st.Lights[0].State == "disconnected" {
			disconnectedSnaps = append(disconnectedSnaps, st.Lights[0])
		}
	})

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected
	}) {
		t.Fatal("light never connected")
	}

	h.setProbeErr(errInjected)

	if !waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateDisconnected
	}) {
		t.Fatal("probe failure did not demote the light")
	}
	if !m.scheduler.Pending(macA) {
		t.Fatal("demotion did not arm a reconnect")
	}

	// Let a few more poll intervals pass: the demoted light must not be
	// probed (and demoted) again.
	time.Sleep(100 * time.Millisecond)

	snapMu.Lock()
	defer snapMu.Unlock()
	if got := len(disconnectedSnaps); got != 1 {
		t.Fatalf("demotion emitted %d notifications, want 1", got)
	}

	// Connection fields and reported state must be reset before the
	// snapshot is taken.
	snap := disconnectedSnaps[0]
	if snap.RSSI != 0 {
		t.Fatalf("demotion snapshot still carries RSSI %d", snap.RSSI)
	}
	if snap.Brightness != 0 || snap.TemperatureK != neewer.DefaultTemperatureK {
		t.Fatalf("demotion snapshot did not reset reported state: %+v", snap)
	}
	if !strings.Contains(snap.LastError, "liveness probe failed") {
		t.Fatalf("demotion snapshot last_error = %q", snap.LastError)
	}
}

func TestManagerLinkDropTriggersReconnect(t *testing.T) {
	adapter := newMockAdapter()
	h := newMockHandle(macA, nil, nil)
	adapter.advertise(h)

	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected
	}) {
		t.Fatal("light never connected")
	}
	scansBefore := adapter.scanCalls.Load()

	h.dropLink()

	if !waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected && adapter.scanCalls.Load() > scansBefore
	}) {
		t.Fatal("light did not reconnect after link drop")
	}
	// The stale handle must not be reused: reconnect re-discovers.
	if adapter.scanCalls.Load() <= scansBefore {
		t.Fatal("reconnect reused a stale handle instead of re-discovering")
	}
}

func TestManagerSetCCTFanOutReportsPartialOutcome(t *testing.T) {
	adapter := newMockAdapter()
	handles := map[string]*mockHandle{}
	for _, mac := range []string{macA, macB, macC} {
		h := newMockHandle(mac, nil, nil)
		handles[mac] = h
		adapter.advertise(h)
	}
	// macD never advertises.

	cfg := testBLEConfig()
	cfg.ReconnectInterval = time.Hour

	m := NewManager(cfg, lightConfigs(macA, macB, macC, macD), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !waitFor(3*time.Second, func() bool {
		return m.Status().Connected == 3
	}) {
		t.Fatalf("expected 3 connected lights: %+v", m.Status())
	}

	var notifies atomic.Int32
	m.SetOnChange(func(Status) { notifies.Add(1) })

	// Out-of-range values must be clamped, not rejected.
	results, err := m.SetCCT(context.Background(), TargetAll, 150, 9000)
	if err != nil {
		t.Fatalf("SetCCT: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	okCount := 0
	for _, r := range results {
		if r.OK {
			okCount++
			continue
		}
		if r.MAC != macD {
			t.Fatalf("unexpected failure for %s: %s", r.MAC, r.Error)
		}
		if !strings.Contains(r.Error, "not connected") {
			t.Fatalf("failure for %s should be not-connected, got %q", r.MAC, r.Error)
		}
	}
	if okCount != 3 {
		t.Fatalf("delivered to %d lights, want 3", okCount)
	}

	// One aggregated notification covers the whole batch.
	if got := notifies.Load(); got != 1 {
		t.Fatalf("fan-out emitted %d notifications, want 1", got)
	}

	for mac, h := range handles {
		h.writesMu.Lock()
		last := h.writes[len(h.writes)-1]
		h.writesMu.Unlock()

		brightness, temperatureK, err := neewer.DecodeCCT(last)
		if err != nil {
			t.Fatalf("%s received malformed command: %v", mac, err)
		}
		if brightness != neewer.MaxBrightness || temperatureK != neewer.MaxTemperatureK {
			t.Fatalf("%s got (%d, %d), want clamped (100, 6500)", mac, brightness, temperatureK)
		}
	}

	// Reported state follows the write: the three delivered lights reflect
	// the clamped levels, the unreachable one keeps its defaults (its
	// desired levels are still recorded for a later restore).
	for _, ls := range m.Status().Lights {
		if ls.MAC == macD {
			if ls.Brightness != 0 || ls.TemperatureK != neewer.DefaultTemperatureK {
				t.Fatalf("unreachable light reported state changed: %+v", ls)
			}
			continue
		}
		if ls.Brightness != neewer.MaxBrightness || ls.TemperatureK != neewer.MaxTemperatureK {
			t.Fatalf("%s reported state not updated: %+v", ls.MAC, ls)
		}
	}
}

func TestManagerConnectFailureRecordsCause(t *testing.T) {
	adapter := newMockAdapter()
	h := newMockHandle(macA, nil, nil)
	h.connectErr = errInjected
	adapter.advertise(h)

	cfg := testBLEConfig()
	cfg.ReconnectInterval = time.Hour

	m := NewManager(cfg, lightConfigs(macA), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// The light was discovered, so the failed connect lands in Disconnected
	// with the cause on the record.
	if got := m.stateOf(macA); got != StateDisconnected {
		t.Fatalf("state after connect failure = %v, want disconnected", got)
	}
	ls := m.Status().Lights[0]
	if !strings.Contains(ls.LastError, ErrConnectFailed.Error()) {
		t.Fatalf("last_error = %q, want it to wrap %q", ls.LastError, ErrConnectFailed)
	}
	if !m.scheduler.Pending(macA) {
		t.Fatal("connect failure did not arm a reconnect")
	}
}

func TestManagerReconnectTimerAfterCloseIsNoOp(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	scans := adapter.scanCalls.Load()

	// A timer fire that slips in around shutdown must not start another
	// attempt or rejoin the drained wait group.
	m.onReconnect(macA)

	time.Sleep(50 * time.Millisecond)
	if got := adapter.scanCalls.Load(); got != scans {
		t.Fatalf("reconnect after close started a scan (%d -> %d)", scans, got)
	}
	if got := m.stateOf(macA); got == StateConnecting {
		t.Fatal("reconnect after close re-entered connecting")
	}
}

func TestManagerSetCCTUnknownTarget(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)
	defer m.Close()

	_, err := m.SetCCT(context.Background(), "ff:ff:ff:ff:ff:ff", 50, 5600)
	if !errors.Is(err, ErrUnknownLight) {
		t.Fatalf("err = %v, want ErrUnknownLight", err)
	}
}

func TestManagerRestoresSceneOnReconnect(t *testing.T) {
	adapter := newMockAdapter()
	h := newMockHandle(macA, nil, nil)
	adapter.advertise(h)

	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected
	}) {
		t.Fatal("light never connected")
	}

	if _, err := m.SetCCT(context.Background(), macA, 40, 3200); err != nil {
		t.Fatalf("SetCCT: %v", err)
	}
	writesBefore := h.writeCount()

	h.dropLink()
	if !waitFor(3*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected && h.writeCount() > writesBefore
	}) {
		t.Fatal("scene was not restored after reconnect")
	}

	h.writesMu.Lock()
	last := h.writes[len(h.writes)-1]
	h.writesMu.Unlock()

	brightness, temperatureK, err := neewer.DecodeCCT(last)
	if err != nil {
		t.Fatalf("restore wrote malformed command: %v", err)
	}
	if brightness != 40 || temperatureK != 3200 {
		t.Fatalf("restore wrote (%d, %d), want (40, 3200)", brightness, temperatureK)
	}

	// The reported state follows the successful restore.
	if !waitFor(time.Second, func() bool {
		ls := m.Status().Lights[0]
		return ls.Brightness == 40 && ls.TemperatureK == 3200
	}) {
		t.Fatalf("reported state not restored: %+v", m.Status().Lights[0])
	}
}

func TestManagerSetPower(t *testing.T) {
	adapter := newMockAdapter()
	h := newMockHandle(macA, nil, nil)
	adapter.advertise(h)

	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)
	defer m.Close()

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected
	}) {
		t.Fatal("light never connected")
	}

	results, err := m.SetPower(context.Background(), macA, false)
	if err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("unexpected results: %+v", results)
	}
	if m.Status().Lights[0].PowerOn {
		t.Fatal("status should report power off")
	}
}

func TestManagerCloseRejectsCommands(t *testing.T) {
	adapter := newMockAdapter()
	h := newMockHandle(macA, nil, nil)
	adapter.advertise(h)

	m := NewManager(testBLEConfig(), lightConfigs(macA), adapter)

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitFor(2*time.Second, func() bool {
		return m.stateOf(macA) == StateConnected
	})

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := m.SetCCT(context.Background(), TargetAll, 50, 5600); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}

	if st := m.stateOf(macA); st == StateConnected {
		t.Fatal("light still marked connected after shutdown")
	}
	if h.disconnect.Load() == 0 {
		t.Fatal("shutdown never disconnected the handle")
	}
}

func TestManagerStatusPreservesConfigOrder(t *testing.T) {
	adapter := newMockAdapter()
	m := NewManager(testBLEConfig(), lightConfigs(macB, macA), adapter)
	defer m.Close()

	st := m.Status()
	if st.Total != 2 || len(st.Lights) != 2 {
		t.Fatalf("unexpected status shape: %+v", st)
	}
	if st.Lights[0].MAC != macB || st.Lights[1].MAC != macA {
		t.Fatalf("status order does not follow configuration: %+v", st.Lights)
	}
	for _, ls := range st.Lights {
		if ls.State != "unresolved" {
			t.Fatalf("fresh light state = %q, want unresolved", ls.State)
		}
		if ls.Brightness != 0 || ls.TemperatureK != neewer.DefaultTemperatureK {
			t.Fatalf("fresh light should report defaults: %+v", ls)
		}
	}
}
