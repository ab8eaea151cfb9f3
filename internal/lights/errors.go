package lights

import "errors"

// Domain-specific errors for lifecycle operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownLight is returned when a command targets a MAC that is not
	// in the configured set.
	ErrUnknownLight = errors.New("lights: unknown light")

	// ErrNotConnected is returned when a command is delivered to a light
	// whose link is down. Fan-out commands report it per light instead.
	ErrNotConnected = errors.New("lights: light not connected")

	// ErrDiscoveryFailed is returned when a scan completes without the
	// target light advertising.
	ErrDiscoveryFailed = errors.New("lights: discovery failed")

	// ErrConnectFailed wraps a failed GATT connect or setup sequence.
	ErrConnectFailed = errors.New("lights: connect failed")

	// ErrProbeFailed wraps a liveness probe failure that demoted a light.
	ErrProbeFailed = errors.New("lights: liveness probe failed")

	// ErrWriteFailed wraps a command write failure that demoted a light.
	ErrWriteFailed = errors.New("lights: write failed")

	// ErrLinkDropped records an adapter-reported disconnect.
	ErrLinkDropped = errors.New("lights: link dropped")

	// ErrShuttingDown is returned when an operation arrives after Close.
	ErrShuttingDown = errors.New("lights: manager shutting down")
)
