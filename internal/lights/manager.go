package lights

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/level451/neewerctl/internal/ble"
	"github.com/level451/neewerctl/internal/infrastructure/config"
	"github.com/level451/neewerctl/internal/neewer"
)

// TargetAll addresses every configured light in one command.
const TargetAll = "all"

// Manager orchestrates the connection lifecycle for the configured set of
// lights and fans commands out to them.
//
// The set of lights is fixed at construction. Lights that never advertise
// are retried forever; there is no give-up threshold.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Manager struct {
	cfg config.BLEConfig

	scanner   *Scanner
	gate      *Gate
	scheduler *Scheduler
	monitor   *Monitor

	mu     sync.RWMutex
	lights map[string]*light
	order  []string

	onChange func(Status)
	changeMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	rootCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closingMu sync.Mutex
	closing   bool
	wg        sync.WaitGroup
}

// NewManager creates a Manager for the given lights.
//
// Parameters:
//   - cfg: Radio and orchestration tunables
//   - lightCfgs: Configured lights; MACs are normalised to lower case
//   - adapter: Radio adapter (Central in production, mocks in tests)
//
// Returns:
//   - *Manager: Manager ready for Initialize
func NewManager(cfg config.BLEConfig, lightCfgs []config.LightConfig, adapter ble.Adapter) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:     cfg,
		scanner: NewScanner(adapter, cfg.ScanWindow),
		gate:    NewGate(cfg.MaxConcurrentConnects),
		lights:  make(map[string]*light, len(lightCfgs)),
		rootCtx: ctx,
		cancel:  cancel,
	}

	for _, lc := range lightCfgs {
		mac := strings.ToLower(lc.MAC)
		m.lights[mac] = &light{
			mac:                 mac,
			name:                lc.Name,
			state:               StateUnresolved,
			temperatureK:        neewer.DefaultTemperatureK,
			desiredBrightness:   neewer.MaxBrightness,
			desiredTemperatureK: neewer.DefaultTemperatureK,
		}
		m.order = append(m.order, mac)
	}

	m.scheduler = NewScheduler(cfg.ReconnectInterval, m.onReconnect)
	m.monitor = NewMonitor(cfg.PollInterval, m.pollOnce, func() bool {
		return m.scanner.Active() || m.gate.Busy()
	})

	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// SetOnChange registers a callback invoked with a fresh status snapshot
// after every state transition. Each demotion produces exactly one call.
// The callback runs on lifecycle goroutines and must not block.
func (m *Manager) SetOnChange(fn func(Status)) {
	m.changeMu.Lock()
	m.onChange = fn
	m.changeMu.Unlock()
}

// Initialize runs the initial connect attempts and starts the poll monitor
// and the backstop sweep. It returns once every initial attempt has settled;
// lights that failed or never advertised are left to the reconnect timers.
// Individual failures never surface here.
//
// Each light's first attempt is staggered so they do not all pile onto the
// admission gate in the same instant.
func (m *Manager) Initialize() error {
	select {
	case <-m.rootCtx.Done():
		return ErrShuttingDown
	default:
	}

	m.logInfo("initialising lights",
		"count", len(m.order),
		"gate_capacity", m.cfg.MaxConcurrentConnects,
		"scan_window", m.cfg.ScanWindow.String())

	var initial sync.WaitGroup
	for i, mac := range m.order {
		delay := time.Duration(i) * m.cfg.StartupStagger
		initial.Add(1)
		m.wg.Add(1)
		go func(mac string, delay time.Duration) {
			defer m.wg.Done()
			defer initial.Done()
			select {
			case <-time.After(delay):
			case <-m.rootCtx.Done():
				return
			}
			m.attemptConnect(mac)
		}(mac, delay)
	}

	m.monitor.Start()

	m.wg.Add(1)
	go m.sweepLoop()

	initial.Wait()
	return nil
}

// SetCCT sets brightness and colour temperature on the target light, or on
// every light when target is "all". Out-of-range values are clamped.
//
// Delivery is per light: a fan-out returns one CommandResult per light and a
// nil error even when some lights were unreachable. The desired levels are
// recorded for every target regardless of delivery, so lights that reconnect
// later are restored to the commanded scene; the reported state in snapshots
// only changes on a successful write.
//
// Parameters:
//   - ctx: Bounds the writes
//   - target: Lower/upper-case MAC, or TargetAll
//   - brightness: Percentage, clamped to 0-100
//   - temperatureK: Kelvin, clamped to 2700-6500
//
// Returns:
//   - []CommandResult: One entry per targeted light
//   - error: ErrUnknownLight or ErrShuttingDown; nil on (partial) delivery
func (m *Manager) SetCCT(ctx context.Context, target string, brightness, temperatureK int) ([]CommandResult, error) {
	brightness = neewer.ClampBrightness(brightness)
	temperatureK = neewer.ClampTemperature(temperatureK)
	cmd := neewer.CCTCommand(brightness, temperatureK)

	record := func(l *light) {
		l.desiredBrightness = brightness
		l.desiredTemperatureK = temperatureK
		l.desiredPowerOn = true
		l.commanded = true
	}
	apply := func(l *light) {
		l.brightness = brightness
		l.temperatureK = temperatureK
		l.powerOn = true
	}
	return m.deliver(ctx, target, cmd, record, apply)
}

// SetPower switches the target light (or every light) on or off.
//
// Returns:
//   - []CommandResult: One entry per targeted light
//   - error: ErrUnknownLight or ErrShuttingDown; nil on (partial) delivery
func (m *Manager) SetPower(ctx context.Context, target string, on bool) ([]CommandResult, error) {
	cmd := neewer.PowerCommand(on)

	record := func(l *light) {
		l.desiredPowerOn = on
		l.commanded = true
	}
	apply := func(l *light) {
		l.powerOn = on
	}
	return m.deliver(ctx, target, cmd, record, apply)
}

// deliver writes cmd to each targeted light. record captures the desired
// state for every target up front; apply folds the state into the reported
// snapshot only after the write succeeds.
func (m *Manager) deliver(ctx context.Context, target string, cmd []byte, record, apply func(*light)) ([]CommandResult, error) {
	select {
	case <-m.rootCtx.Done():
		return nil, ErrShuttingDown
	default:
	}

	macs, err := m.resolveTargets(target)
	if err != nil {
		return nil, err
	}

	results := make([]CommandResult, 0, len(macs))
	for _, mac := range macs {
		m.mu.Lock()
		l := m.lights[mac]
		record(l)
		name := l.name
		connected := l.state == StateConnected
		handle := l.handle
		m.mu.Unlock()

		if !connected || handle == nil {
			results = append(results, CommandResult{
				MAC:   mac,
				Name:  name,
				Error: ErrNotConnected.Error(),
			})
			continue
		}

		if err := handle.Write(ctx, cmd); err != nil {
			m.logWarn("command write failed", "mac", mac, "error", err)
			results = append(results, CommandResult{
				MAC:   mac,
				Name:  name,
				Error: err.Error(),
			})

			// A failed write means the link is gone in all but name.
			m.demote(mac, fmt.Errorf("%w: %w", ErrWriteFailed, err))
			m.scheduler.Schedule(mac)
			continue
		}

		m.mu.Lock()
		apply(l)
		l.lastSeen = time.Now()
		m.mu.Unlock()
		results = append(results, CommandResult{MAC: mac, Name: name, OK: true})
	}

	m.notify()
	return results, nil
}

// resolveTargets maps a target string to the list of MACs it addresses.
func (m *Manager) resolveTargets(target string) ([]string, error) {
	if strings.EqualFold(target, TargetAll) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		macs := make([]string, len(m.order))
		copy(macs, m.order)
		return macs, nil
	}

	mac := strings.ToLower(target)
	m.mu.RLock()
	_, ok := m.lights[mac]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLight, target)
	}
	return []string{mac}, nil
}

// Status returns a snapshot of every managed light in configuration order.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Lights:      make([]LightStatus, 0, len(m.order)),
		Total:       len(m.order),
		GeneratedAt: time.Now(),
	}

	for _, mac := range m.order {
		l := m.lights[mac]
		ls := LightStatus{
			MAC:          l.mac,
			Name:         l.name,
			State:        l.state.String(),
			Brightness:   l.brightness,
			TemperatureK: l.temperatureK,
			PowerOn:      l.powerOn,
			LastError:    l.lastError,
		}
		if l.state == StateConnected {
			st.Connected++
			ls.RSSI = l.rssi
		}
		if !l.lastSeen.IsZero() {
			t := l.lastSeen
			ls.LastSeen = &t
		}
		st.Lights = append(st.Lights, ls)
	}

	return st
}

// ManagerStats aggregates counters from the lifecycle machinery.
type ManagerStats struct {
	Scanner           ScannerStats `json:"scanner"`
	Gate              GateStats    `json:"gate"`
	Monitor           MonitorStats `json:"monitor"`
	PendingReconnects int          `json:"pending_reconnects"`
}

// Stats returns lifecycle counters for observability endpoints.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Scanner:           m.scanner.Stats(),
		Gate:              m.gate.Stats(),
		Monitor:           m.monitor.Stats(),
		PendingReconnects: m.scheduler.PendingCount(),
	}
}

// Close tears down the lifecycle machinery and disconnects every light.
// Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logInfo("shutting down light manager")

		// Timer fires check this flag before joining the wait group, so no
		// goroutine is added once Wait below could observe a zero counter.
		m.closingMu.Lock()
		m.closing = true
		m.closingMu.Unlock()

		m.cancel()
		m.scheduler.Close()
		m.monitor.Close()
		m.wg.Wait()

		m.mu.Lock()
		var handles []ble.DeviceHandle
		for _, mac := range m.order {
			l := m.lights[mac]
			if l.handle != nil {
				handles = append(handles, l.handle)
				l.handle = nil
			}
			if l.state == StateConnected || l.state == StateConnecting {
				l.state = StateDisconnected
			}
		}
		m.mu.Unlock()

		for _, h := range handles {
			if err := h.Disconnect(); err != nil {
				m.logWarn("disconnect during shutdown failed", "error", err)
			}
		}
	})
	return nil
}

// attemptConnect runs one full connect sequence for a light: claim the
// record, resolve a handle (scanning if needed), queue on the admission
// gate, connect, and restore desired state. On failure the light is demoted
// and a reconnect timer armed.
func (m *Manager) attemptConnect(mac string) {
	m.mu.Lock()
	l, ok := m.lights[mac]
	if !ok || l.state == StateConnecting || l.state == StateConnected {
		m.mu.Unlock()
		return
	}
	l.state = StateConnecting
	l.lastError = ""
	handle := l.handle
	m.mu.Unlock()
	m.notify()

	if err := m.connect(mac, handle); err != nil {
		select {
		case <-m.rootCtx.Done():
			// Shutdown cancelled the attempt; leave the record alone.
			return
		default:
		}

		m.logWarn("connect attempt failed", "mac", mac, "error", err)
		m.demote(mac, err)
		m.scheduler.Schedule(mac)
	}
}

// connect performs the discovery/admission/connect sequence. The caller has
// already marked the light Connecting.
func (m *Manager) connect(mac string, handle ble.DeviceHandle) error {
	if handle == nil {
		var err error
		handle, err = m.resolve(mac)
		if err != nil {
			return err
		}
	}

	if err := m.gate.Acquire(m.rootCtx); err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	defer m.gate.Release()

	connectCtx, cancel := context.WithTimeout(m.rootCtx, m.cfg.ConnectTimeout)
	defer cancel()

	if err := handle.Connect(connectCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := handle.Subscribe(func(data []byte) { m.handleNotify(mac, data) }); err != nil {
		handle.Disconnect()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	handle.SetOnLinkDropped(func() { m.onLinkDropped(mac) })

	m.mu.Lock()
	l := m.lights[mac]
	l.state = StateConnected
	l.handle = handle
	l.discovered = true
	l.rssi = handle.RSSI()
	l.lastSeen = time.Now()
	l.lastError = ""
	name := l.name
	commanded := l.commanded
	powerOn := l.desiredPowerOn
	brightness := l.desiredBrightness
	temperatureK := l.desiredTemperatureK
	m.mu.Unlock()

	// Success silences the retry loop.
	m.scheduler.Cancel(mac)

	m.logInfo("light connected", "mac", mac, "name", name, "rssi", handle.RSSI())
	m.notify()

	// Restore the commanded scene so a power-cycled light rejoins it.
	if commanded {
		m.restore(mac, handle, powerOn, brightness, temperatureK)
	}

	return nil
}

// restore replays the desired state onto a freshly connected light. On
// success the reported state follows, since the device is now known to be at
// the commanded levels.
func (m *Manager) restore(mac string, handle ble.DeviceHandle, powerOn bool, brightness, temperatureK int) {
	ctx, cancel := context.WithTimeout(m.rootCtx, m.cfg.ProbeTimeout)
	defer cancel()

	var err error
	if powerOn {
		err = handle.Write(ctx, neewer.CCTCommand(brightness, temperatureK))
	} else {
		err = handle.Write(ctx, neewer.PowerCommand(false))
	}
	if err != nil {
		m.logWarn("state restore failed", "mac", mac, "error", err)
		return
	}

	m.mu.Lock()
	if l, ok := m.lights[mac]; ok {
		l.powerOn = powerOn
		if powerOn {
			l.brightness = brightness
			l.temperatureK = temperatureK
		}
		l.lastSeen = time.Now()
	}
	m.mu.Unlock()
	m.notify()
}

// resolve obtains a handle for mac, scanning for every light that currently
// lacks one. Handles produced by the shared scan are adopted for all lights,
// not just the requester.
func (m *Manager) resolve(mac string) (ble.DeviceHandle, error) {
	targets := m.missingTargets()

	found, err := m.scanner.Discover(m.rootCtx, targets)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	m.mu.Lock()
	for id, h := range found {
		if l, ok := m.lights[id]; ok && l.handle == nil && l.state != StateConnected {
			l.handle = h
			l.discovered = true
			l.rssi = h.RSSI()
		}
	}
	handle := m.lights[mac].handle
	m.mu.Unlock()

	if handle == nil {
		return nil, fmt.Errorf("%w: %s did not advertise", ErrDiscoveryFailed, mac)
	}
	return handle, nil
}

// missingTargets returns the MACs of every light with no live handle, used
// as the scan's early-stop set.
func (m *Manager) missingTargets() map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make(map[string]struct{})
	for _, mac := range m.order {
		l := m.lights[mac]
		if l.state != StateConnected && l.handle == nil {
			targets[mac] = struct{}{}
		}
	}
	return targets
}

// demote resets a light's connection fields and reported state and records
// the cause, emitting exactly one status notification for the transition.
// The stale handle is discarded: the next attempt re-discovers. Reported
// levels return to defaults because the physical state after a drop is
// unknown; the desired levels are kept for the restore on reconnect.
func (m *Manager) demote(mac string, cause error) {
	m.mu.Lock()
	l, ok := m.lights[mac]
	if !ok {
		m.mu.Unlock()
		return
	}
	handle := l.handle
	l.handle = nil
	l.rssi = 0
	l.brightness = 0
	l.temperatureK = neewer.DefaultTemperatureK
	l.powerOn = false
	if l.discovered {
		l.state = StateDisconnected
	} else {
		l.state = StateUnresolved
	}
	if cause != nil {
		l.lastError = cause.Error()
	}
	m.mu.Unlock()

	if handle != nil {
		handle.Disconnect()
	}

	m.notify()
}

// onLinkDropped handles an adapter-reported disconnect.
func (m *Manager) onLinkDropped(mac string) {
	select {
	case <-m.rootCtx.Done():
		return
	default:
	}

	m.logWarn("link dropped", "mac", mac)
	m.demote(mac, ErrLinkDropped)
	m.scheduler.Schedule(mac)
}

// onReconnect fires when a reconnect timer elapses. If the radio is busy
// scanning or connecting, the timer is re-armed instead of piling on.
func (m *Manager) onReconnect(mac string) {
	select {
	case <-m.rootCtx.Done():
		return
	default:
	}

	if m.scanner.Active() || m.gate.Busy() {
		m.logDebug("radio busy, re-arming reconnect", "mac", mac)
		m.scheduler.Schedule(mac)
		return
	}

	m.mu.RLock()
	l, ok := m.lights[mac]
	skip := !ok || l.state == StateConnected || l.state == StateConnecting
	m.mu.RUnlock()
	if skip {
		return
	}

	// The timer goroutine is not itself tracked by the wait group, so the
	// flag keeps this Add from racing a Wait that has already hit zero.
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return
	}
	m.wg.Add(1)
	m.closingMu.Unlock()

	go func() {
		defer m.wg.Done()
		m.attemptConnect(mac)
	}()
}

// pollOnce probes every connected light. A failed probe demotes the light
// and arms a reconnect.
func (m *Manager) pollOnce() {
	type probe struct {
		mac    string
		handle ble.DeviceHandle
	}

	m.mu.RLock()
	var probes []probe
	for _, mac := range m.order {
		l := m.lights[mac]
		if l.state == StateConnected && l.handle != nil {
			probes = append(probes, probe{mac: mac, handle: l.handle})
		}
	}
	m.mu.RUnlock()

	for _, p := range probes {
		ctx, cancel := context.WithTimeout(m.rootCtx, m.cfg.ProbeTimeout)
		err := p.handle.ReadProbe(ctx)
		cancel()

		if err == nil {
			m.touch(p.mac)
			continue
		}

		m.logWarn("liveness probe failed", "mac", p.mac, "error", err)
		m.demote(p.mac, fmt.Errorf("%w: %w", ErrProbeFailed, err))
		m.scheduler.Schedule(p.mac)
	}
}

// sweepLoop is the backstop: on a long interval, re-arm reconnects for every
// light that is neither connected nor already queued. Timers can be lost
// across host sleep; the sweep guarantees no light stays forgotten.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep arms a reconnect for every idle, unconnected light. Lights with a
// timer already pending are left alone; the sweep only recovers timers that
// were silently lost.
func (m *Manager) sweep() {
	m.mu.RLock()
	var stale []string
	for _, mac := range m.order {
		l := m.lights[mac]
		if l.state != StateConnected && l.state != StateConnecting {
			stale = append(stale, mac)
		}
	}
	m.mu.RUnlock()

	armed := 0
	for _, mac := range stale {
		if m.scheduler.Pending(mac) {
			continue
		}
		if m.scheduler.Schedule(mac) {
			armed++
		}
	}
	if armed > 0 {
		m.logInfo("sweep re-armed reconnects", "count", armed)
	}
}

// handleNotify interprets state echoed by a light on the notify
// characteristic and folds it into the record.
func (m *Manager) handleNotify(mac string, data []byte) {
	brightness, temperatureK, err := neewer.DecodeCCT(data)
	if err != nil {
		m.logDebug("ignoring notification", "mac", mac, "len", len(data))
		return
	}

	m.mu.Lock()
	if l, ok := m.lights[mac]; ok {
		l.brightness = brightness
		l.temperatureK = temperatureK
		l.lastSeen = time.Now()
	}
	m.mu.Unlock()

	m.notify()
}

// touch updates a light's last-seen timestamp without emitting a
// notification.
func (m *Manager) touch(mac string) {
	m.mu.Lock()
	if l, ok := m.lights[mac]; ok {
		l.lastSeen = time.Now()
	}
	m.mu.Unlock()
}

// notify invokes the change callback with a fresh snapshot, if one is set.
func (m *Manager) notify() {
	m.changeMu.RLock()
	fn := m.onChange
	m.changeMu.RUnlock()

	if fn != nil {
		fn(m.Status())
	}
}

// logDebug logs a debug message if a logger is set.
func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is set.
func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if a logger is set.
func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	m.loggerMu.RLock()
	logger := m.logger
	m.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
