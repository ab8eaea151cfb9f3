// neewerctl - Neewer BLE light control daemon
//
// This is the main entry point for the daemon. It maintains connections to a
// configured set of Neewer lights over Bluetooth LE and exposes them through
// an HTTP/WebSocket API and an optional MQTT integration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/level451/neewerctl/internal/api"
	"github.com/level451/neewerctl/internal/ble"
	"github.com/level451/neewerctl/internal/infrastructure/config"
	"github.com/level451/neewerctl/internal/infrastructure/logging"
	"github.com/level451/neewerctl/internal/infrastructure/mqtt"
	"github.com/level451/neewerctl/internal/lights"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting neewerctl",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "lights", len(cfg.Lights))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Enable the Bluetooth adapter
	central, err := ble.Enable()
	if err != nil {
		return fmt.Errorf("enabling bluetooth adapter: %w", err)
	}
	central.SetLogger(log.With("component", "ble"))
	log.Info("bluetooth adapter enabled")

	// Create the light manager
	manager := lights.NewManager(cfg.BLE, cfg.Lights, central)
	manager.SetLogger(log.With("component", "lights"))
	defer func() {
		log.Info("closing light manager")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing light manager", "error", closeErr)
		}
	}()

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.With("component", "api"),
		Manager: manager,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		if err := subscribeCommands(ctx, mqttClient, manager); err != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", err)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Fan every lifecycle transition out to the WebSocket hub and, when
	// enabled, to the retained MQTT status topic.
	manager.SetOnChange(func(st lights.Status) {
		apiServer.BroadcastStatus(st)
		if mqttClient != nil {
			publishStatus(mqttClient, st, log)
		}
	})

	// Kick off the connection lifecycle: staggered initial connects, the
	// liveness monitor, and the backstop sweep.
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("initialising lights: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. MQTT (if enabled)
	// 2. API server
	// 3. Light manager

	log.Info("neewerctl stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NEEWER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NEEWER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttCommand is the inbound command payload on the command topic. Either
// the CCT pair or the power flag must be present.
type mqttCommand struct {
	Target       string `json:"target"`
	Brightness   *int   `json:"brightness"`
	TemperatureK *int   `json:"temperature_k"`
	On           *bool  `json:"on"`
}

// publishStatus publishes a retained status snapshot to the MQTT status topic.
func publishStatus(client *mqtt.Client, st lights.Status, log *logging.Logger) {
	payload, err := json.Marshal(st)
	if err != nil {
		log.Error("marshalling status for MQTT", "error", err)
		return
	}
	if err := client.PublishRetained(mqtt.TopicLightsStatus, payload); err != nil {
		log.Warn("publishing status to MQTT", "error", err)
	}
}

// subscribeCommands accepts commands from the MQTT command topic and routes
// them to the light manager.
func subscribeCommands(ctx context.Context, client *mqtt.Client, manager *lights.Manager) error {
	return client.Subscribe(mqtt.TopicCommand, 1, func(_ string, payload []byte) error {
		var cmd mqttCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("parsing command payload: %w", err)
		}
		if cmd.Target == "" {
			cmd.Target = lights.TargetAll
		}

		switch {
		case cmd.Brightness != nil && cmd.TemperatureK != nil:
			_, err := manager.SetCCT(ctx, cmd.Target, *cmd.Brightness, *cmd.TemperatureK)
			return err
		case cmd.On != nil:
			_, err := manager.SetPower(ctx, cmd.Target, *cmd.On)
			return err
		default:
			return fmt.Errorf("command payload needs brightness+temperature_k or on")
		}
	})
}
