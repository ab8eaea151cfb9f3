// Package mqtt provides the optional MQTT integration for the Neewer control
// daemon.
//
// When enabled, the daemon publishes retained light status snapshots on every
// lifecycle transition and accepts commands published to the command topic,
// so home-automation systems (Home Assistant, Node-RED) can drive the lights
// without touching the HTTP API.
//
// The client wraps paho.mqtt.golang with connection management, automatic
// reconnection with exponential backoff, re-subscription on reconnect, and a
// Last Will so other services can see the daemon drop off the broker.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package mqtt
