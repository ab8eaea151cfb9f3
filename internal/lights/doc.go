// Package lights owns the connection lifecycle for every configured Neewer
// light: discovery, admission-limited connects, reconnect timers, liveness
// polling, and command fan-out.
//
// The package is built from small single-purpose pieces the Manager wires
// together:
//
//   - Scanner collapses concurrent discovery requests into one radio scan.
//   - Gate bounds how many connect sequences run against the adapter at once,
//     admitting waiters in FIFO order.
//   - Scheduler holds at most one pending reconnect timer per light.
//   - Monitor probes connected lights on an interval, pausing while the radio
//     is busy scanning or connecting.
//
// Each light moves through a simple state machine: Unresolved (never seen
// advertising) -> Connecting -> Connected -> Disconnected, and back through
// Connecting on every reconnect attempt. A light that has never been
// discovered returns to Unresolved on failure, not Disconnected.
package lights
