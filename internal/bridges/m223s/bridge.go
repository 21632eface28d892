package m223s

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge timing defaults.
const (
	// defaultPollInterval is the cadence of the recurring status poll.
	defaultPollInterval = 7500 * time.Millisecond

	// defaultIdleCeiling bounds how long a session stays up before the
	// watchdog disconnects it ahead of the next discovery pass.
	defaultIdleCeiling = 10 * time.Minute

	// cycleTimeout bounds one full poll cycle so a wedged transport
	// call cannot pin the in-flight guard forever.
	cycleTimeout = 2 * time.Minute
)

// MQTTClient is the interface the bridge needs from the message bus.
// Satisfied by the infrastructure MQTT client via an adapter in main.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BridgeConfig holds bridge-level settings.
type BridgeConfig struct {
	// StateTopic receives the serialized status, retained.
	StateTopic string

	// OffTopic is watched for turn-off triggers; any message counts.
	OffTopic string

	// PollInterval is the recurring poll cadence. Default: 7.5s.
	PollInterval time.Duration

	// IdleCeiling is the maximum implied session activity before the
	// watchdog disconnects. Default: 10 minutes.
	IdleCeiling time.Duration

	// HealthTopic receives periodic health reports, retained.
	HealthTopic string

	// HealthInterval is the health report cadence; zero disables
	// reporting.
	HealthInterval time.Duration
}

// Bridge couples the device session to the message bus: it publishes
// every status change to the state topic, relays off-topic messages to
// the device, and drives the poll scheduler with its idle-disconnect
// watchdog.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	cfg     BridgeConfig
	mqtt    MQTTClient
	session *Session
	health  *HealthReporter

	// inFlight is the single-flight guard: a tick that lands while a
	// previous cycle's steps are still pending defers instead of
	// overlapping it.
	inFlight atomic.Bool

	// offCh wakes the scheduler for an immediate turn-off outside the
	// poll cadence.
	offCh chan struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds construction parameters for the bridge.
type BridgeOptions struct {
	// Config is the bridge configuration.
	Config BridgeConfig

	// MQTTClient is the message bus client.
	MQTTClient MQTTClient

	// Transport is the BLE access layer.
	Transport Transport

	// Protocol overrides the default protocol parameters; zero-valued
	// fields keep their defaults.
	Protocol ProtocolConfig

	// Logger is an optional structured logger.
	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("m223s: MQTT client is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("m223s: transport is required")
	}

	cfg := opts.Config
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.IdleCeiling == 0 {
		cfg.IdleCeiling = defaultIdleCeiling
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:       cfg,
		mqtt:      opts.MQTTClient,
		offCh:     make(chan struct{}, 1),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	b.session = NewSession(opts.Transport, opts.Protocol, b.publishStatus)
	if opts.Logger != nil {
		b.session.SetLogger(opts.Logger)
	}

	if cfg.HealthInterval > 0 {
		b.health = NewHealthReporter(HealthReporterConfig{
			Topic:     cfg.HealthTopic,
			Interval:  cfg.HealthInterval,
			Publisher: opts.MQTTClient,
			Session:   b.session,
			Transport: opts.Transport,
		})
		if opts.Logger != nil {
			b.health.SetLogger(opts.Logger)
		}
	}

	return b, nil
}

// Session returns the bridge's device session.
func (b *Bridge) Session() *Session {
	return b.session
}

// Start subscribes to the off topic, publishes the initial status and
// launches the poll scheduler.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.OffTopic != "" {
		if err := b.mqtt.Subscribe(b.cfg.OffTopic, 1, b.handleOffMessage); err != nil {
			return fmt.Errorf("subscribe off topic: %w", err)
		}
		b.logInfo("subscribed to off topic", "topic", b.cfg.OffTopic)
	}

	b.publishStatus(b.session.Status())

	if b.health != nil {
		b.health.Start(ctx)
	}

	b.wg.Add(1)
	go b.pollLoop()

	b.logInfo("bridge started",
		"poll_interval", b.cfg.PollInterval.String(),
		"state_topic", b.cfg.StateTopic)
	return nil
}

// Stop shuts the bridge down: the scheduler exits, in-flight cycles are
// cancelled, and the session disconnects cleanly.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		if b.health != nil {
			b.health.Stop()
		}
		b.wg.Wait()

		// Final teardown with a fresh context: b.ctx is cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.session.Disconnect(ctx)

		b.logInfo("bridge stopped")
	})
}

// handleOffMessage is the off-topic trigger: any message wakes the
// scheduler for an immediate turn-off. The send is non-blocking; a
// trigger that lands while one is already pending coalesces with it.
func (b *Bridge) handleOffMessage(topic string, _ []byte) {
	b.logInfo("off command received", "topic", topic)
	select {
	case b.offCh <- struct{}{}:
	default:
	}
}

// pollLoop is the poll scheduler: a recurring tick drives the full
// session cycle, and the off channel wakes it out of cadence. The first
// cycle runs immediately.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	b.runCycle()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.runCycle()
		case <-b.offCh:
			b.turnOff()
		}
	}
}

// runCycle executes one watchdog check plus poll cycle under the
// single-flight guard. A tick observing a cycle still in flight defers
// to the next tick rather than overlapping.
func (b *Bridge) runCycle() {
	if !b.inFlight.CompareAndSwap(false, true) {
		b.logDebug("poll cycle already running, deferring tick")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.inFlight.Store(false)

		ctx, cancel := context.WithTimeout(b.ctx, cycleTimeout)
		defer cancel()

		b.checkIdleWatchdog(ctx)

		if err := b.session.Poll(ctx); err != nil {
			b.logDebug("poll cycle ended early", "error", err)
		}
	}()
}

// checkIdleWatchdog disconnects the session when its accumulated
// activity implies it has been up past the ceiling. Disconnecting first
// lets the following discovery start a fresh session.
func (b *Bridge) checkIdleWatchdog(ctx context.Context) {
	active := time.Duration(b.session.CommandsSent()) * b.cfg.PollInterval
	if active <= b.cfg.IdleCeiling {
		return
	}
	b.logInfo("idle ceiling reached, disconnecting",
		"active", active.String(),
		"ceiling", b.cfg.IdleCeiling.String())
	b.session.Disconnect(ctx)
}

// turnOff relays the off command to the device immediately.
func (b *Bridge) turnOff() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, writeValueTimeout)
		defer cancel()
		if err := b.session.TurnOff(ctx); err != nil {
			b.logWarn("turn-off failed", "error", err)
			return
		}
		b.logInfo("turn-off sent")
	}()
}

// publishStatus serializes and publishes the status, retained, on every
// update. There is no dirty-check: identical values republish.
func (b *Bridge) publishStatus(status Status) {
	payload := status.JSON()
	if err := b.mqtt.Publish(b.cfg.StateTopic, payload, 1, true); err != nil {
		b.logWarn("status publish failed", "error", err)
		return
	}
	b.logDebug("status published", "status", status.String())
}

// SetLogger sets the logger for the bridge and its session.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.session.SetLogger(logger)
	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}
