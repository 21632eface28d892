package m223s

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionState is the connection/authorization progress of one session.
// It advances monotonically within a connection attempt and resets to
// SessionDisconnected on connect failure or explicit disconnect.
type SessionState int

// Session states.
const (
	SessionDisconnected SessionState = iota
	SessionConnected
	SessionAuthorized
)

// String returns the state name for logs.
func (s SessionState) String() string {
	switch s {
	case SessionConnected:
		return "connected"
	case SessionAuthorized:
		return "authorized"
	default:
		return "disconnected"
	}
}

// Default discovery timing.
const (
	defaultDiscoveryAttempts   = 5
	defaultDiscoveryRetryDelay = 1 * time.Second
	defaultScanMinInterval     = 60 * time.Second
)

// Fixed device identity. The bridge talks to exactly one appliance;
// address and key are protocol constants, not configuration.
var defaultAuthKey = [8]byte{0xa4, 0x3b, 0x64, 0xb0, 0xa3, 0xfb, 0xae, 0xcb}

const (
	defaultAddress = "F9:DA:73:71:23:4A"

	// Nordic UART service characteristics: write commands to the TX
	// characteristic, receive notifications on RX.
	defaultWriteUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	defaultNotifyUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// ProtocolConfig holds the session's protocol parameters.
type ProtocolConfig struct {
	// Address is the target device's Bluetooth address.
	Address string

	// Key is the 8-byte authorization key.
	Key [8]byte

	// WriteUUID identifies the command-write characteristic.
	WriteUUID string

	// NotifyUUID identifies the status-notify characteristic.
	NotifyUUID string

	// OffCommand is the turn-off command code. Firmware revisions
	// disagree on whether this shares the query code; default 0x04.
	OffCommand byte

	// DiscoveryAttempts is how many enumeration passes discovery makes
	// before giving up. Default: 5.
	DiscoveryAttempts int

	// DiscoveryRetryDelay is the pause between enumeration passes.
	// Default: 1 second.
	DiscoveryRetryDelay time.Duration

	// ScanMinInterval rate-limits scan-start requests so a new request
	// does not interfere with an already-running scan. Default: 60s.
	ScanMinInterval time.Duration
}

// DefaultProtocolConfig returns the protocol parameters for the M223S.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		Address:             defaultAddress,
		Key:                 defaultAuthKey,
		WriteUUID:           defaultWriteUUID,
		NotifyUUID:          defaultNotifyUUID,
		OffCommand:          DefaultCmdOff,
		DiscoveryAttempts:   defaultDiscoveryAttempts,
		DiscoveryRetryDelay: defaultDiscoveryRetryDelay,
		ScanMinInterval:     defaultScanMinInterval,
	}
}

// applyDefaults fills zero-valued fields.
func (c *ProtocolConfig) applyDefaults() {
	def := DefaultProtocolConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.Key == ([8]byte{}) {
		c.Key = def.Key
	}
	if c.WriteUUID == "" {
		c.WriteUUID = def.WriteUUID
	}
	if c.NotifyUUID == "" {
		c.NotifyUUID = def.NotifyUUID
	}
	if c.OffCommand == 0 {
		c.OffCommand = def.OffCommand
	}
	if c.DiscoveryAttempts == 0 {
		c.DiscoveryAttempts = def.DiscoveryAttempts
	}
	if c.DiscoveryRetryDelay == 0 {
		c.DiscoveryRetryDelay = def.DiscoveryRetryDelay
	}
	if c.ScanMinInterval == 0 {
		c.ScanMinInterval = def.ScanMinInterval
	}
}

// Session owns the device lifecycle: discovery, connection, endpoint
// resolution, authorization and command issuance, plus the notification
// handler that correlates asynchronous responses back into state.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Shared session state is
//     guarded by one mutex; the lock is never held across a transport
//     call, so a blocked write cannot stall notification handling.
type Session struct {
	transport Transport
	cfg       ProtocolConfig

	mu            sync.Mutex
	state         SessionState
	devicePath    string
	writePath     string // command characteristic, resolved per connection
	notifyPath    string // status characteristic, resolved per connection
	unsubscribe   func()
	counter       uint8  // rolling frame sequence tag, wraps mod 256
	commandsSent  uint64 // commands since last disconnect, for the idle watchdog
	lastScanStart time.Time
	status        Status

	// onStatus is invoked with a copy of the status after every change,
	// including republication of identical values.
	onStatus func(Status)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a session over the given transport.
//
// onStatus receives every status update for publication; it may be nil.
func NewSession(transport Transport, cfg ProtocolConfig, onStatus func(Status)) *Session {
	cfg.applyDefaults()
	return &Session{
		transport: transport,
		cfg:       cfg,
		state:     SessionDisconnected,
		status:    NewStatus(),
		onStatus:  onStatus,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a copy of the current device status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CommandsSent returns the number of commands issued since the last
// disconnect. The poll scheduler's idle watchdog reads this.
func (s *Session) CommandsSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandsSent
}

// Counter returns the current rolling counter value, i.e. the tag the
// next outgoing frame will carry.
func (s *Session) Counter() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Poll runs one full discover → connect → subscribe → authorize → query
// cycle. Any step failure aborts the cycle; the next tick retries from
// discovery. Failures are ordinary: the device may be off, out of range,
// or still settling its services.
func (s *Session) Poll(ctx context.Context) error {
	if _, err := s.Discover(ctx); err != nil {
		s.logInfo("device not found", "address", s.cfg.Address)
		return err
	}
	if err := s.Connect(ctx); err != nil {
		s.logWarn("connect failed", "error", err)
		return err
	}
	if err := s.Subscribe(); err != nil {
		s.logInfo("services not discovered yet", "error", err)
		return err
	}
	if err := s.Authorize(ctx); err != nil {
		s.logWarn("authorization request failed", "error", err)
		return err
	}
	if s.State() >= SessionAuthorized {
		if err := s.Query(ctx); err != nil {
			s.logWarn("query failed", "error", err)
			return err
		}
	}
	return nil
}

// Discover locates the target device under any adapter's known-device
// children, retrying with a bounded, context-aware pause between passes.
// If no pass finds the device, an active scan is started once
// (rate-limited); a started scan is stopped before returning regardless
// of outcome.
func (s *Session) Discover(ctx context.Context) (string, error) {
	adapters := s.adapters(ctx)

	found := ""
	scanStarted := false
	scanTried := false

	for attempt := 0; attempt < s.cfg.DiscoveryAttempts && found == ""; attempt++ {
		for _, adapter := range adapters {
			adapterPath := BlueZRoot + "/" + adapter
			info, err := Enumerate(ctx, s.transport.IntrospectNode, adapterPath, BlueZNamespace)
			if err != nil {
				continue
			}
			for _, child := range info.Children {
				childPath := adapterPath + "/" + child
				addr, err := s.transport.StringProperty(ctx, childPath, ifaceDevice, "Address")
				if err != nil {
					continue // not a device node, or still settling
				}
				if addr == s.cfg.Address {
					found = childPath
				}
			}
		}
		if found != "" {
			break
		}
		if !scanTried {
			scanStarted = s.startScan(ctx, adapters)
			scanTried = true
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.cfg.DiscoveryRetryDelay):
		}
	}

	if scanStarted {
		s.stopScan(ctx, adapters)
	}
	if found == "" {
		return "", ErrDeviceNotFound
	}

	s.mu.Lock()
	s.devicePath = found
	s.mu.Unlock()
	return found, nil
}

// adapters enumerates adapter names under the BlueZ root. A failed
// enumeration yields an empty list; discovery then simply finds nothing
// this cycle.
func (s *Session) adapters(ctx context.Context) []string {
	info, err := Enumerate(ctx, s.transport.IntrospectNode, BlueZRoot, BlueZNamespace)
	if err != nil {
		s.logWarn("adapter enumeration failed", "error", err)
		return nil
	}
	return info.Children
}

// startScan requests active discovery on every adapter, rate-limited so
// that a request within ScanMinInterval of the previous one is skipped
// rather than disturbing a scan that may still be running. Returns true
// if at least one adapter accepted the request.
func (s *Session) startScan(ctx context.Context, adapters []string) bool {
	s.mu.Lock()
	if time.Since(s.lastScanStart) < s.cfg.ScanMinInterval {
		s.mu.Unlock()
		s.logDebug("skipping scan start", "reason", "rate limited")
		return false
	}
	s.lastScanStart = time.Now()
	s.mu.Unlock()

	started := false
	for _, adapter := range adapters {
		path := BlueZRoot + "/" + adapter
		if err := s.transport.CallMethod(ctx, path, ifaceAdapter, "StartDiscovery"); err != nil {
			s.logWarn("scan start failed", "adapter", adapter, "error", err)
			continue
		}
		s.logInfo("scan started", "adapter", adapter)
		started = true
	}
	return started
}

// stopScan stops active discovery on every adapter, best-effort.
func (s *Session) stopScan(ctx context.Context, adapters []string) {
	for _, adapter := range adapters {
		path := BlueZRoot + "/" + adapter
		if err := s.transport.CallMethod(ctx, path, ifaceAdapter, "StopDiscovery"); err != nil {
			s.logWarn("scan stop failed", "adapter", adapter, "error", err)
			continue
		}
		s.logInfo("scan stopped", "adapter", adapter)
	}
}

// Connect establishes the link to the discovered device and resolves the
// communication endpoints. If the device already reports itself
// connected, link establishment is skipped and resolution proceeds
// directly. On connect failure the session stays disconnected and the
// cycle aborts.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	devicePath := s.devicePath
	s.mu.Unlock()
	if devicePath == "" {
		return ErrDeviceNotFound
	}

	connected, err := s.transport.BoolProperty(ctx, devicePath, ifaceDevice, "Connected")
	if err != nil {
		connected = false
	}

	if !connected {
		s.resetToDisconnected()
		s.logInfo("connecting", "device", devicePath)
		if err := s.transport.CallMethod(ctx, devicePath, ifaceDevice, "Connect"); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
		s.logInfo("connected", "device", devicePath)
		s.setSessionState(SessionConnected, StateConnected)
	} else {
		s.mu.Lock()
		if s.state < SessionConnected {
			s.state = SessionConnected
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	resolved := s.writePath != "" && s.notifyPath != ""
	s.mu.Unlock()
	if !resolved {
		s.resolveEndpoints(ctx, devicePath)
	}

	s.mu.Lock()
	resolved = s.writePath != "" && s.notifyPath != ""
	s.mu.Unlock()
	if !resolved {
		return ErrEndpointsUnresolved
	}
	return nil
}

// resolveEndpoints walks the connected device's subtree matching each
// node's UUID against the write and notify characteristic identifiers.
func (s *Session) resolveEndpoints(ctx context.Context, devicePath string) {
	Walk(ctx, s.transport.IntrospectNode, devicePath, BlueZNamespace, func(path, iface string) {
		if iface == "" {
			return
		}
		uuid, err := s.transport.StringProperty(ctx, path, iface, "UUID")
		if err != nil {
			return
		}
		s.mu.Lock()
		switch uuid {
		case s.cfg.WriteUUID:
			s.writePath = path
		case s.cfg.NotifyUUID:
			s.notifyPath = path
		}
		s.mu.Unlock()
	})

	s.mu.Lock()
	writePath, notifyPath := s.writePath, s.notifyPath
	s.mu.Unlock()
	if writePath != "" && notifyPath != "" {
		s.logInfo("endpoints resolved", "write", writePath, "notify", notifyPath)
	}
}

// Subscribe registers for change notifications on the notify endpoint.
// Registration happens exactly once per connection and persists across
// poll cycles until the link is torn down.
func (s *Session) Subscribe() error {
	s.mu.Lock()
	notifyPath := s.notifyPath
	subscribed := s.unsubscribe != nil
	s.mu.Unlock()

	if notifyPath == "" {
		return ErrEndpointsUnresolved
	}
	if subscribed {
		return nil
	}

	cancel, err := s.transport.SubscribeValue(notifyPath, s.handleNotification)
	if err != nil {
		return fmt.Errorf("subscribe notifications: %w", err)
	}

	s.mu.Lock()
	s.unsubscribe = cancel
	s.mu.Unlock()
	s.logInfo("notification subscription registered", "path", notifyPath)
	return nil
}

// Authorize sends the authorization command with the fixed key. A
// successful write advances no state by itself; the transition to
// SessionAuthorized happens when the device's asynchronous grant arrives
// via the notification handler. Skipped when already authorized.
func (s *Session) Authorize(ctx context.Context) error {
	if s.State() >= SessionAuthorized {
		return nil
	}

	// The device must be notifying before the grant can be observed.
	if err := s.ensureNotifying(ctx); err != nil {
		return err
	}

	s.logInfo("writing authorization request")
	if err := s.writeCommand(ctx, CmdAuth, s.cfg.Key[:]); err != nil {
		return err
	}
	s.logInfo("authorization request sent")
	return nil
}

// ensureNotifying asks the device to start emitting value notifications
// on the notify characteristic.
func (s *Session) ensureNotifying(ctx context.Context) error {
	s.mu.Lock()
	notifyPath := s.notifyPath
	s.mu.Unlock()
	if notifyPath == "" {
		return ErrEndpointsUnresolved
	}
	if err := s.transport.CallMethod(ctx, notifyPath, ifaceCharacteristic, "StartNotify"); err != nil {
		return fmt.Errorf("start notify: %w", err)
	}
	return nil
}

// Query sends the status query command. The response arrives
// asynchronously via the notification handler.
func (s *Session) Query(ctx context.Context) error {
	s.logDebug("sending query")
	return s.writeCommand(ctx, CmdQuery, nil)
}

// TurnOff sends the off command. It requires a connected session with a
// resolved write endpoint but does not require authorization to have
// completed.
func (s *Session) TurnOff(ctx context.Context) error {
	if s.State() < SessionConnected {
		return ErrNotConnected
	}
	s.logInfo("sending turn-off")
	return s.writeCommand(ctx, s.cfg.OffCommand, nil)
}

// writeCommand frames and writes a command to the write endpoint,
// consuming one rolling counter value.
func (s *Session) writeCommand(ctx context.Context, command byte, payload []byte) error {
	s.mu.Lock()
	writePath := s.writePath
	ctr := s.counter
	s.counter++ // wraps mod 256
	s.commandsSent++
	s.mu.Unlock()

	if writePath == "" {
		return ErrEndpointsUnresolved
	}

	frame := EncodeFrame(command, ctr, payload)
	if err := s.transport.WriteValue(ctx, writePath, frame); err != nil {
		return err
	}
	return nil
}

// Disconnect tears the session down: notifications are unregistered
// (best-effort) and the link is closed. State, endpoints, authorization
// and the watchdog counter all reset; the rolling frame counter keeps
// rolling across sessions.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	notify := s.notifyPath
	device := s.devicePath
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if notify != "" {
		if err := s.transport.CallMethod(ctx, notify, ifaceCharacteristic, "StopNotify"); err != nil {
			s.logWarn("stop notify failed", "error", err)
		} else {
			s.logInfo("stopped notifications")
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if device != "" {
		if err := s.transport.CallMethod(ctx, device, ifaceDevice, "Disconnect"); err != nil {
			s.logWarn("disconnect failed", "error", err)
		} else {
			s.logInfo("disconnected", "device", device)
		}
	}

	s.mu.Lock()
	s.state = SessionDisconnected
	s.writePath = ""
	s.notifyPath = ""
	s.devicePath = ""
	s.commandsSent = 0
	s.status = NewStatus()
	status := s.status
	s.mu.Unlock()
	s.publish(status)
}

// resetToDisconnected clears the status model ahead of a fresh link
// attempt and publishes the disconnected state.
func (s *Session) resetToDisconnected() {
	s.mu.Lock()
	s.status = NewStatus()
	status := s.status
	s.mu.Unlock()
	s.publish(status)
}

// setSessionState advances the session and mirrors the lifecycle marker
// into the published status.
func (s *Session) setSessionState(state SessionState, marker State) {
	s.mu.Lock()
	s.state = state
	s.status.State = marker
	status := s.status
	s.mu.Unlock()
	s.publish(status)
}

// HandleNotification feeds a raw inbound buffer through the frame codec
// and applies the decoded event to session and status state. Exposed for
// the scheduler tests; the transport subscription calls it directly.
func (s *Session) HandleNotification(value []byte) {
	s.handleNotification(value)
}

// handleNotification is the notification correlator. Short or
// unrecognized frames are logged and discarded without touching state.
func (s *Session) handleNotification(value []byte) {
	s.logDebug("notification received", "bytes", fmt.Sprintf("% x", value))

	event, err := DecodeFrame(value)
	if err != nil {
		s.logWarn("discarding malformed frame", "error", err)
		return
	}

	switch ev := event.(type) {
	case AuthResult:
		if ev.Granted {
			s.logInfo("authorization granted")
			s.setSessionState(SessionAuthorized, StateAuthorized)
		} else {
			// Denied: stay on the link but drop any stale status; the
			// next cycle retries the handshake.
			s.logWarn("authorization denied")
			s.mu.Lock()
			s.state = SessionConnected
			s.status = NewStatus()
			s.status.State = StateConnected
			status := s.status
			s.mu.Unlock()
			s.publish(status)
		}

	case QueryResult:
		s.mu.Lock()
		s.status = Status{
			State:       stateFromByte(ev.State),
			Program:     Program(ev.Program),
			Temperature: int(ev.Temperature),
			Hours:       int(ev.Hours),
			Minutes:     int(ev.Minutes),
		}
		status := s.status
		s.mu.Unlock()
		s.publish(status)

	case Unrecognized:
		s.logDebug("ignoring unrecognized frame", "command", fmt.Sprintf("0x%02x", ev.Command))
	}
}

// publish hands a status copy to the publication callback. Every update
// is re-emitted in full, unchanged values included.
func (s *Session) publish(status Status) {
	if s.onStatus != nil {
		s.onStatus(status)
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
