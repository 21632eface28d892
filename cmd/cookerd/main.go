// cookerd - Redmond M223S multicooker bridge
//
// This is the main entry point for the cookerd daemon. It links a
// Bluetooth LE multicooker to an MQTT broker:
//   - Polls the appliance over BlueZ and publishes its status, retained
//   - Relays turn-off requests from MQTT to the appliance
//   - Reports its own health alongside the appliance state
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stovetop/m223s-bridge/internal/bridges/m223s"
	"github.com/stovetop/m223s-bridge/internal/infrastructure/config"
	"github.com/stovetop/m223s-bridge/internal/infrastructure/logging"
	"github.com/stovetop/m223s-bridge/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
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
	log.Info("starting cookerd",
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
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to the system D-Bus for BlueZ access. Losing the bus is
	// unrecoverable, so failure here ends the process.
	transport, err := m223s.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	defer func() {
		log.Info("closing system bus connection")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing system bus", "error", closeErr)
		}
	}()
	transport.SetLogger(log)
	log.Info("system bus connected")

	// Start the appliance bridge
	bridge, err := startBridge(ctx, cfg, transport, mqttClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Verify infrastructure connections are healthy
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Bridge (disconnects the appliance session)
	// 2. System bus
	// 3. MQTT

	log.Info("cookerd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses COOKERD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COOKERD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBridge initialises and starts the appliance bridge.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - transport: BlueZ transport
//   - mqttClient: MQTT client for publishing/subscribing
//   - log: Logger instance
//
// Returns:
//   - *m223s.Bridge: Running bridge
//   - error: If bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, transport *m223s.BlueZTransport, mqttClient *mqtt.Client, log *logging.Logger) (*m223s.Bridge, error) {
	key, err := cfg.Device.AuthKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("decoding auth key: %w", err)
	}

	protocol := m223s.DefaultProtocolConfig()
	protocol.Address = cfg.Device.Address
	copy(protocol.Key[:], key)
	if cfg.Device.WriteUUID != "" {
		protocol.WriteUUID = cfg.Device.WriteUUID
	}
	if cfg.Device.NotifyUUID != "" {
		protocol.NotifyUUID = cfg.Device.NotifyUUID
	}
	if cfg.Device.DiscoveryAttempts > 0 {
		protocol.DiscoveryAttempts = cfg.Device.DiscoveryAttempts
	}
	if cfg.Device.ScanMinIntervalSeconds > 0 {
		protocol.ScanMinInterval = cfg.GetScanMinInterval()
	}
	protocol.OffCommand = byte(cfg.Device.OffCommand)

	// Create MQTT adapter to satisfy the bridge interface
	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	bridge, err := m223s.NewBridge(m223s.BridgeOptions{
		Config: m223s.BridgeConfig{
			StateTopic:     cfg.Bridge.StateTopic,
			OffTopic:       cfg.Bridge.OffTopic,
			HealthTopic:    cfg.Bridge.HealthTopic,
			PollInterval:   cfg.GetPollInterval(),
			IdleCeiling:    cfg.GetIdleCeiling(),
			HealthInterval: cfg.GetHealthInterval(),
		},
		MQTTClient: mqttAdapter,
		Transport:  transport,
		Protocol:   protocol,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started",
		"device", cfg.Device.Address,
		"state_topic", cfg.Bridge.StateTopic,
		"poll_interval", cfg.GetPollInterval(),
	)

	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The primary difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements m223s.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements m223s.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements m223s.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
