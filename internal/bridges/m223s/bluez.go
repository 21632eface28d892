package m223s

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
)

// BlueZ bus and interface names.
const (
	bluezDest = "org.bluez"

	// BlueZNamespace prefixes every BlueZ-declared interface; the walker
	// matches interfaces against it.
	BlueZNamespace = "org.bluez"

	// BlueZRoot is the object tree root under which adapters live.
	BlueZRoot = "/org/bluez"

	ifaceAdapter        = "org.bluez.Adapter1"
	ifaceDevice         = "org.bluez.Device1"
	ifaceCharacteristic = "org.bluez.GattCharacteristic1"

	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	signalPropsChanged  = "PropertiesChanged"
)

// Transport timeouts.
const (
	// writeValueTimeout bounds a write-with-acknowledgement. If the
	// device does not acknowledge within this window the write fails and
	// the pending step is abandoned; a late acknowledgement is discarded
	// by the bus library, never redelivered.
	writeValueTimeout = 10 * time.Second

	// defaultCallTimeout bounds ordinary method calls and property reads
	// when the caller's context carries no earlier deadline.
	defaultCallTimeout = 30 * time.Second
)

// Ensure BlueZTransport implements Transport.
var _ Transport = (*BlueZTransport)(nil)

// BlueZTransport implements Transport against the BlueZ daemon on the
// D-Bus system bus.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Value-change handlers run on a single dispatch goroutine; a slow
//     handler delays later notifications but never loses them.
type BlueZTransport struct {
	conn *dbus.Conn

	// Signal routing: characteristic path → value handler.
	handlers  map[dbus.ObjectPath]func([]byte)
	handlerMu sync.Mutex

	sigCh chan *dbus.Signal

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics.
	notificationsRx atomic.Uint64
	writesTx        atomic.Uint64
	errorsTotal     atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// ConnectSystemBus opens the D-Bus system bus and starts the signal
// dispatch loop. Failure here is the one process-fatal condition of the
// bridge: without a bus there is no transport to retry on.
func ConnectSystemBus() (*BlueZTransport, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("m223s: open system bus: %w", err)
	}

	t := &BlueZTransport{
		conn:     conn,
		handlers: make(map[dbus.ObjectPath]func([]byte)),
		sigCh:    make(chan *dbus.Signal, 32),
		done:     make(chan struct{}),
	}
	t.lastActivity.Store(time.Now().Unix())

	conn.Signal(t.sigCh)
	t.wg.Add(1)
	go t.dispatchLoop()

	return t, nil
}

// dispatchLoop routes PropertiesChanged signals to the handler
// registered for the originating characteristic path.
func (t *BlueZTransport) dispatchLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case sig, ok := <-t.sigCh:
			if !ok {
				return
			}
			if sig.Name != ifaceProperties+"."+signalPropsChanged {
				continue
			}
			t.handleSignal(sig)
		}
	}
}

// handleSignal extracts a changed Value payload and invokes the
// registered handler. Signals for paths without a handler, or property
// changes that do not carry a Value, are ignored.
func (t *BlueZTransport) handleSignal(sig *dbus.Signal) {
	t.handlerMu.Lock()
	handler := t.handlers[sig.Path]
	t.handlerMu.Unlock()
	if handler == nil {
		return
	}

	// Body: interface name, changed properties, invalidated names.
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	variant, ok := changed["Value"]
	if !ok {
		return
	}
	value, ok := variant.Value().([]byte)
	if !ok {
		return
	}

	t.notificationsRx.Add(1)
	t.lastActivity.Store(time.Now().Unix())

	defer func() {
		if r := recover(); r != nil {
			t.logError("value handler panic", fmt.Errorf("%v", r))
		}
	}()
	handler(value)
}

// callCtx derives a bounded context for a bus call.
func callCtx(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < limit {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}

// IntrospectNode implements Transport.
func (t *BlueZTransport) IntrospectNode(ctx context.Context, path string) (string, error) {
	ctx, cancel := callCtx(ctx, defaultCallTimeout)
	defer cancel()

	var doc string
	obj := t.conn.Object(bluezDest, dbus.ObjectPath(path))
	if err := obj.CallWithContext(ctx, ifaceIntrospectable+".Introspect", 0).Store(&doc); err != nil {
		t.errorsTotal.Add(1)
		return "", fmt.Errorf("introspect %s: %w", path, err)
	}
	return doc, nil
}

// StringProperty implements Transport.
func (t *BlueZTransport) StringProperty(ctx context.Context, path, iface, property string) (string, error) {
	var v dbus.Variant
	if err := t.getProperty(ctx, path, iface, property, &v); err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property %s.%s on %s: not a string", iface, property, path)
	}
	return s, nil
}

// BoolProperty implements Transport.
func (t *BlueZTransport) BoolProperty(ctx context.Context, path, iface, property string) (bool, error) {
	var v dbus.Variant
	if err := t.getProperty(ctx, path, iface, property, &v); err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.%s on %s: not a bool", iface, property, path)
	}
	return b, nil
}

func (t *BlueZTransport) getProperty(ctx context.Context, path, iface, property string, out *dbus.Variant) error {
	ctx, cancel := callCtx(ctx, defaultCallTimeout)
	defer cancel()

	obj := t.conn.Object(bluezDest, dbus.ObjectPath(path))
	if err := obj.CallWithContext(ctx, ifaceProperties+".Get", 0, iface, property).Store(out); err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("get %s.%s on %s: %w", iface, property, path, err)
	}
	return nil
}

// CallMethod implements Transport.
func (t *BlueZTransport) CallMethod(ctx context.Context, path, iface, method string) error {
	ctx, cancel := callCtx(ctx, defaultCallTimeout)
	defer cancel()

	obj := t.conn.Object(bluezDest, dbus.ObjectPath(path))
	if err := obj.CallWithContext(ctx, iface+"."+method, 0).Err; err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("call %s.%s on %s: %w", iface, method, path, err)
	}
	return nil
}

// WriteValue implements Transport. The write uses the "command" write
// type and is bounded by the fixed acknowledgement timeout.
func (t *BlueZTransport) WriteValue(ctx context.Context, path string, value []byte) error {
	ctx, cancel := callCtx(ctx, writeValueTimeout)
	defer cancel()

	options := map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	}
	obj := t.conn.Object(bluezDest, dbus.ObjectPath(path))
	if err := obj.CallWithContext(ctx, ifaceCharacteristic+".WriteValue", 0, value, options).Err; err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, path, err)
	}

	t.writesTx.Add(1)
	t.lastActivity.Store(time.Now().Unix())
	return nil
}

// SubscribeValue implements Transport. It adds a bus match for
// PropertiesChanged on the characteristic path and registers handler for
// the dispatch loop. The returned function removes both.
func (t *BlueZTransport) SubscribeValue(path string, handler func([]byte)) (func(), error) {
	objPath := dbus.ObjectPath(path)
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(objPath),
		dbus.WithMatchInterface(ifaceProperties),
		dbus.WithMatchMember(signalPropsChanged),
	}
	if err := t.conn.AddMatchSignal(opts...); err != nil {
		t.errorsTotal.Add(1)
		return nil, fmt.Errorf("add signal match on %s: %w", path, err)
	}

	t.handlerMu.Lock()
	t.handlers[objPath] = handler
	t.handlerMu.Unlock()

	cancel := func() {
		t.handlerMu.Lock()
		delete(t.handlers, objPath)
		t.handlerMu.Unlock()
		if err := t.conn.RemoveMatchSignal(opts...); err != nil {
			t.logError("remove signal match failed", err)
		}
	}
	return cancel, nil
}

// Close implements Transport.
func (t *BlueZTransport) Close() error {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	t.conn.RemoveSignal(t.sigCh)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// Stats returns current transport statistics.
func (t *BlueZTransport) Stats() TransportStats {
	return TransportStats{
		NotificationsRx: t.notificationsRx.Load(),
		WritesTx:        t.writesTx.Load(),
		ErrorsTotal:     t.errorsTotal.Load(),
		LastActivity:    time.Unix(t.lastActivity.Load(), 0),
	}
}

// SetLogger sets the logger for this transport.
func (t *BlueZTransport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *BlueZTransport) logError(msg string, err error) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
