package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Neewer GATT identifiers. All CCT-only Neewer panels expose the same
// control service: commands are written to the control characteristic and
// state echoes arrive on the notify characteristic.
const (
	controlServiceUUID = "69400001-b5a3-f393-e0a9-e50e24dcca99"
	controlCharUUID    = "69400002-b5a3-f393-e0a9-e50e24dcca99"
	notifyCharUUID     = "69400003-b5a3-f393-e0a9-e50e24dcca99"
)

// defaultProbeTimeout bounds a liveness probe read when the caller's context
// carries no deadline.
const defaultProbeTimeout = 3 * time.Second

// Central is the production Adapter backed by tinygo.org/x/bluetooth
// (BlueZ on Linux).
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Discover is internally serialised; the link-drop dispatch table is
//     guarded by its own mutex.
type Central struct {
	adapter *bluetooth.Adapter

	// scanMu serialises scans: the underlying stack supports only one.
	scanMu sync.Mutex

	// dropHandlers routes adapter-level disconnect events to the handle
	// that currently owns each address.
	dropHandlers map[string]func()
	dropMu       sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Enable initialises the host Bluetooth stack and returns a ready Central.
//
// Returns:
//   - *Central: Adapter ready for discovery
//   - error: If the stack cannot be enabled
func Enable() (*Central, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterDisabled, err)
	}

	c := &Central{
		adapter:      adapter,
		dropHandlers: make(map[string]func()),
	}

	// One global handler fans disconnect events out to per-device callbacks.
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := normaliseID(device.Address.String())

		c.dropMu.Lock()
		fn := c.dropHandlers[id]
		delete(c.dropHandlers, id) // one-shot
		c.dropMu.Unlock()

		if fn != nil {
			c.logDebug("link dropped", "id", id)
			fn()
		}
	})

	return c, nil
}

// Discover implements Adapter.
func (c *Central) Discover(ctx context.Context, window time.Duration, earlyStop map[string]struct{}) ([]DeviceHandle, error) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	var (
		mu      sync.Mutex
		seen    = make(map[string]*deviceHandle)
		pending = len(earlyStop)
		done    = make(chan struct{})
		once    sync.Once
	)
	finish := func() { once.Do(func() { close(done) }) }

	// Scan blocks until StopScan on BlueZ, so it runs in its own goroutine
	// and the deadline race is driven here.
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := normaliseID(result.Address.String())

			mu.Lock()
			if _, dup := seen[id]; dup {
				mu.Unlock()
				return
			}
			seen[id] = &deviceHandle{
				central: c,
				id:      id,
				name:    result.LocalName(),
				rssi:    int(result.RSSI),
				address: result.Address,
			}
			if _, wanted := earlyStop[id]; wanted {
				pending--
			}
			allFound := pending == 0 && len(earlyStop) > 0
			mu.Unlock()

			// Early stop: every target observed, no point burning the window.
			if allFound {
				adapter.StopScan()
				finish()
			}
		})
	}()

	// The scan ends when the window elapses, every target is found, or the
	// caller cancels.
	select {
	case <-done:
	case <-time.After(window):
		c.adapter.StopScan()
	case <-ctx.Done():
		c.adapter.StopScan()
		<-scanErr
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, ctx.Err())
	}

	if err := <-scanErr; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	mu.Lock()
	defer mu.Unlock()
	handles := make([]DeviceHandle, 0, len(seen))
	for _, h := range seen {
		handles = append(handles, h)
	}
	c.logDebug("scan complete", "found", len(handles))
	return handles, nil
}

// SetLogger sets the logger for this adapter.
func (c *Central) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// registerDropHandler installs the link-drop callback for an address,
// replacing any previous registration for the same address.
func (c *Central) registerDropHandler(id string, fn func()) {
	c.dropMu.Lock()
	if fn == nil {
		delete(c.dropHandlers, id)
	} else {
		c.dropHandlers[id] = fn
	}
	c.dropMu.Unlock()
}

// logDebug logs a debug message if a logger is set.
func (c *Central) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// normaliseID lower-cases a hardware address so ids compare reliably.
func normaliseID(addr string) string {
	return strings.ToLower(addr)
}

// deviceHandle implements DeviceHandle on top of a scan result.
type deviceHandle struct {
	central *Central
	id      string
	name    string
	rssi    int
	address bluetooth.Address

	mu        sync.Mutex
	device    bluetooth.Device
	control   bluetooth.DeviceCharacteristic
	notify    bluetooth.DeviceCharacteristic
	connected bool
}

// Ensure deviceHandle implements DeviceHandle.
var _ DeviceHandle = (*deviceHandle)(nil)

func (h *deviceHandle) ID() string   { return h.id }
func (h *deviceHandle) Name() string { return h.name }
func (h *deviceHandle) RSSI() int    { return h.rssi }

// Connect implements DeviceHandle.
func (h *deviceHandle) Connect(ctx context.Context) error {
	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	device, err := h.central.adapter.Connect(h.address, params)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrConnectFailed, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{mustParseUUID(controlServiceUUID)})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("%w: %w", ErrServiceMissing, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		mustParseUUID(controlCharUUID),
		mustParseUUID(notifyCharUUID),
	})
	if err != nil || len(chars) < 2 {
		device.Disconnect()
		return fmt.Errorf("%w: characteristics: %w", ErrServiceMissing, err)
	}

	h.mu.Lock()
	h.device = device
	h.control = chars[0]
	h.notify = chars[1]
	h.connected = true
	h.mu.Unlock()

	return nil
}

// Disconnect implements DeviceHandle.
func (h *deviceHandle) Disconnect() error {
	h.mu.Lock()
	wasConnected := h.connected
	h.connected = false
	device := h.device
	h.mu.Unlock()

	// Tearing down deliberately: stop routing the drop event back into the
	// reconnect machinery.
	h.central.registerDropHandler(h.id, nil)

	if !wasConnected {
		return nil
	}
	return device.Disconnect()
}

// Write implements DeviceHandle.
func (h *deviceHandle) Write(ctx context.Context, data []byte) error {
	h.mu.Lock()
	connected := h.connected
	control := h.control
	h.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := control.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("ble: write: %w", err)
	}
	return nil
}

// Subscribe implements DeviceHandle.
func (h *deviceHandle) Subscribe(onNotify func(data []byte)) error {
	h.mu.Lock()
	connected := h.connected
	notify := h.notify
	h.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	if err := notify.EnableNotifications(onNotify); err != nil {
		return fmt.Errorf("ble: enable notifications: %w", err)
	}
	return nil
}

// ReadProbe implements DeviceHandle.
//
// The read itself has no cancellation hook in the underlying stack, so it
// runs in a goroutine raced against the context. A timed-out read goroutine
// finishes (or errors) on its own shortly after the link is declared dead.
func (h *deviceHandle) ReadProbe(ctx context.Context) error {
	h.mu.Lock()
	connected := h.connected
	notify := h.notify
	h.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
	}

	result := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := notify.Read(buf)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("ble: probe read: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ble: probe read: %w", ctx.Err())
	}
}

// SetOnLinkDropped implements DeviceHandle.
func (h *deviceHandle) SetOnLinkDropped(fn func()) {
	h.central.registerDropHandler(h.id, fn)
}

// mustParseUUID parses a UUID literal known to be valid at compile time.
func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("ble: invalid UUID literal %q: %v", s, err))
	}
	return uuid
}
