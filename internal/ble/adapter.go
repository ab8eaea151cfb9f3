package ble

import (
	"context"
	"errors"
	"time"
)

// Domain-specific errors for radio operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAdapterDisabled is returned when the host Bluetooth stack cannot
	// be enabled.
	ErrAdapterDisabled = errors.New("ble: adapter could not be enabled")

	// ErrScanFailed is returned when a discovery scan fails to start or
	// aborts before its window elapses.
	ErrScanFailed = errors.New("ble: scan failed")

	// ErrConnectFailed is returned when a GATT connect or service setup
	// sequence fails.
	ErrConnectFailed = errors.New("ble: connect failed")

	// ErrNotConnected is returned for operations that require an active
	// connection.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrServiceMissing is returned when a connected device does not expose
	// the expected control service or characteristics.
	ErrServiceMissing = errors.New("ble: control service missing")
)

// Adapter abstracts the host radio. The production implementation is Central
// (tinygo.org/x/bluetooth on BlueZ); tests substitute mocks.
type Adapter interface {
	// Discover scans for advertising devices for up to window, deduplicating
	// by hardware address. If earlyStop is non-empty the scan terminates as
	// soon as every listed id (lower-case MAC) has been observed.
	//
	// Callers must not issue overlapping scans; the orchestrator serialises
	// discovery through its single-flight layer.
	Discover(ctx context.Context, window time.Duration, earlyStop map[string]struct{}) ([]DeviceHandle, error)
}

// DeviceHandle is a reference to one discovered device. A handle remains
// usable until the link drops or a fresh discovery supersedes it.
type DeviceHandle interface {
	// ID returns the device hardware address, normalised to lower case.
	ID() string

	// Name returns the advertised local name (may be empty).
	Name() string

	// RSSI returns the signal strength observed during discovery, in dBm.
	RSSI() int

	// Connect establishes the GATT session and resolves the control
	// characteristics. It respects the context deadline.
	Connect(ctx context.Context) error

	// Disconnect tears down the GATT session. Safe to call when already
	// disconnected.
	Disconnect() error

	// Write sends a command to the control characteristic.
	Write(ctx context.Context, data []byte) error

	// Subscribe registers a callback for notifications from the device.
	// Must be called after Connect.
	Subscribe(onNotify func(data []byte)) error

	// ReadProbe performs an inexpensive read used solely to verify the
	// connection is still alive.
	ReadProbe(ctx context.Context) error

	// SetOnLinkDropped registers a one-shot callback invoked when the
	// adapter reports the link has dropped. Replaces any prior callback.
	SetOnLinkDropped(fn func())
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
