// Package neewer implements the Neewer BLE light command encoding.
//
// The protocol is a small fixed-shape byte format written to the light's
// control characteristic:
//
//	[0x78, tag, payload_len, payload..., checksum]
//
// where checksum is the modulo-256 sum of all preceding bytes. This package
// is pure and stateless: it clamps inputs to the documented bounds, builds
// command bytes, and decodes them again for verification. All connection
// concerns live elsewhere (internal/ble, internal/lights).
package neewer
