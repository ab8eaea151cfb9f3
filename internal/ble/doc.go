// Package ble provides the radio adapter for the Neewer control daemon.
//
// It defines the Adapter and DeviceHandle interfaces the orchestrator
// (internal/lights) is written against, plus Central, the production
// implementation on tinygo.org/x/bluetooth (BlueZ on Linux).
//
// The adapter deliberately knows nothing about connection lifecycle policy:
// retries, concurrency limits, and scan coordination all live in the
// orchestrator. This package only exposes the primitives: discover,
// connect, write, subscribe, probe, and the one-shot link-drop event.
package ble
