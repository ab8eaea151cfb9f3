// Package logging provides structured logging for the Neewer control daemon.
//
// It wraps the standard library's log/slog with:
//   - Configuration-driven setup (level, format, output)
//   - Default fields attached to every record (service, version)
//   - A Default() logger for early startup before config is loaded
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("light connected", "mac", mac, "rssi", rssi)
//
//	component := log.With("component", "lights")
//	component.Warn("probe failed", "mac", mac, "error", err)
package logging
