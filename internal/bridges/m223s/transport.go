package m223s

import (
	"context"
	"time"
)

// Transport is the BLE access layer boundary. The production
// implementation is BlueZ over the system bus (bluez.go); tests supply
// fakes.
//
// All calls are synchronous: a method returns once the underlying bus
// call completed, failed, or the context expired. The session never
// relies on a late completion firing twice.
type Transport interface {
	// IntrospectNode returns the raw introspection document for a path.
	IntrospectNode(ctx context.Context, path string) (string, error)

	// StringProperty reads a string property on a path/interface pair.
	StringProperty(ctx context.Context, path, iface, property string) (string, error)

	// BoolProperty reads a boolean property on a path/interface pair.
	BoolProperty(ctx context.Context, path, iface, property string) (bool, error)

	// CallMethod invokes a no-argument method on a path/interface pair.
	CallMethod(ctx context.Context, path, iface, method string) error

	// WriteValue performs a write-with-acknowledgement of a command
	// frame to a characteristic, using the "command" write type.
	WriteValue(ctx context.Context, path string, value []byte) error

	// SubscribeValue delivers the characteristic's raw value to handler
	// whenever it changes. The returned function cancels the
	// subscription.
	SubscribeValue(path string, handler func([]byte)) (func(), error)

	// Close releases the underlying bus connection.
	Close() error
}

// TransportStats holds operational statistics for the BLE transport.
type TransportStats struct {
	NotificationsRx uint64
	WritesTx        uint64
	ErrorsTotal     uint64
	LastActivity    time.Time
}

// StatsProvider is implemented by transports that track statistics.
type StatsProvider interface {
	Stats() TransportStats
}

// Logger is the optional structured logger accepted by this package's
// components. Satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
