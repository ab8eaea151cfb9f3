package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
lights:
  - mac: "DF:24:52:D6:34:1A"
    name: "Key Light"
  - mac: "ED:11:09:6F:E3:00"
    name: "Fill Light"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BLE.ScanWindow != 8*time.Second {
		t.Errorf("ScanWindow = %v, want 8s", cfg.BLE.ScanWindow)
	}
	if cfg.BLE.MaxConcurrentConnects != 2 {
		t.Errorf("MaxConcurrentConnects = %d, want 2", cfg.BLE.MaxConcurrentConnects)
	}
	if cfg.BLE.ReconnectInterval != 10*time.Second {
		t.Errorf("ReconnectInterval = %v, want 10s", cfg.BLE.ReconnectInterval)
	}
	if cfg.BLE.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.BLE.PollInterval)
	}
	if cfg.BLE.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want 1h", cfg.BLE.SweepInterval)
	}
	if cfg.API.Port != 8655 {
		t.Errorf("API.Port = %d, want 8655", cfg.API.Port)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should be disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
ble:
  scan_window: 12s
  max_concurrent_connects: 3
  reconnect_interval: 30s
api:
  port: 9000
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BLE.ScanWindow != 12*time.Second {
		t.Errorf("ScanWindow = %v, want 12s", cfg.BLE.ScanWindow)
	}
	if cfg.BLE.MaxConcurrentConnects != 3 {
		t.Errorf("MaxConcurrentConnects = %d, want 3", cfg.BLE.MaxConcurrentConnects)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	// Untouched values keep their defaults.
	if cfg.BLE.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want default 5s", cfg.BLE.PollInterval)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("NEEWER_API_PORT", "7777")
	t.Setenv("NEEWER_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 7777 {
		t.Errorf("API.Port = %d, want env override 7777", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override debug", cfg.Logging.Level)
	}
}

func TestValidateRejectsMissingLights(t *testing.T) {
	_, err := Load(writeConfig(t, `
logging:
  level: info
`))
	if err == nil || !strings.Contains(err.Error(), "at least one light") {
		t.Fatalf("err = %v, want missing-lights validation error", err)
	}
}

func TestValidateRejectsDuplicateMACs(t *testing.T) {
	_, err := Load(writeConfig(t, `
lights:
  - mac: "DF:24:52:D6:34:1A"
    name: "Key"
  - mac: "df:24:52:d6:34:1a"
    name: "Duplicate in different case"
`))
	if err == nil || !strings.Contains(err.Error(), "duplicated") {
		t.Fatalf("err = %v, want duplicate-mac validation error", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
api:
  port: 70000
`))
	if err == nil || !strings.Contains(err.Error(), "api.port") {
		t.Fatalf("err = %v, want port validation error", err)
	}
}

func TestValidateRequiresBrokerWhenMQTTEnabled(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
mqtt:
  enabled: true
  broker:
    host: ""
`))
	if err == nil || !strings.Contains(err.Error(), "mqtt.broker.host") {
		t.Fatalf("err = %v, want broker validation error", err)
	}
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero sweep interval", "sweep_interval: 0s", "ble.sweep_interval"},
		{"zero connect timeout", "connect_timeout: 0s", "ble.connect_timeout"},
		{"zero probe timeout", "probe_timeout: 0s", "ble.probe_timeout"},
		{"negative poll interval", "poll_interval: -5s", "ble.poll_interval"},
		{"negative startup stagger", "startup_stagger: -1ms", "ble.startup_stagger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, minimalConfig+"\nble:\n  "+tt.yaml+"\n"))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTimeoutHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout = %v, want 30s", cfg.GetReadTimeout())
	}
	if cfg.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout = %v, want 60s", cfg.GetIdleTimeout())
	}
}
