package lights

import (
	"time"

	"github.com/level451/neewerctl/internal/ble"
)

// ConnectionState describes where a light is in its connection lifecycle.
type ConnectionState int

const (
	// StateUnresolved means the light has never been seen advertising.
	StateUnresolved ConnectionState = iota

	// StateConnecting means a connect sequence is in flight (possibly
	// queued on the admission gate).
	StateConnecting

	// StateConnected means the GATT session is up and the control
	// characteristics are resolved.
	StateConnected

	// StateDisconnected means the light was connected (or at least
	// discovered) before, and the link is currently down.
	StateDisconnected
)

// String returns the lower-case name of the state for logs and snapshots.
func (s ConnectionState) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// light is the internal per-device record. All fields are guarded by the
// Manager's mutex.
type light struct {
	mac  string
	name string

	state  ConnectionState
	handle ble.DeviceHandle
	rssi   int

	// discovered is latched the first time a scan produces a handle for
	// this light. It decides whether a failure demotes to Unresolved or
	// Disconnected.
	discovered bool

	// Reported device state, shown in snapshots. Updated only on a
	// successful write or an echoed notification, and reset to defaults on
	// any transition out of Connected: the physical state after a drop is
	// unknown.
	brightness   int
	temperatureK int
	powerOn      bool

	// Desired output levels, recorded on every command whether or not
	// delivery succeeded. These survive disconnects so a power-cycled light
	// can be restored to the scene on reconnect. commanded is false until
	// the first command of the process lifetime; restores are only issued
	// once it is true.
	desiredBrightness   int
	desiredTemperatureK int
	desiredPowerOn      bool
	commanded           bool

	lastSeen  time.Time
	lastError string
}

// LightStatus is the externally visible snapshot of one light.
type LightStatus struct {
	MAC          string     `json:"mac"`
	Name         string     `json:"name"`
	State        string     `json:"state"`
	Brightness   int        `json:"brightness"`
	TemperatureK int        `json:"temperature_k"`
	PowerOn      bool       `json:"power_on"`
	RSSI         int        `json:"rssi,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Status is a point-in-time snapshot of every managed light.
type Status struct {
	Lights      []LightStatus `json:"lights"`
	Connected   int           `json:"connected"`
	Total       int           `json:"total"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// CommandResult reports the outcome of one command delivery. A fan-out to
// "all" returns one result per light so callers see partial success.
type CommandResult struct {
	MAC   string `json:"mac"`
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
