package m223s

import "errors"

// Domain errors for the M223S bridge package.
var (
	// ErrShortFrame is returned when an inbound frame is too short to
	// carry the fields its command code requires.
	ErrShortFrame = errors.New("m223s: frame too short")

	// ErrDeviceNotFound is returned when discovery exhausts all attempts
	// without locating the target device on any adapter.
	ErrDeviceNotFound = errors.New("m223s: device not found")

	// ErrNotConnected is returned when an operation requires an
	// established link but the session is disconnected.
	ErrNotConnected = errors.New("m223s: not connected")

	// ErrEndpointsUnresolved is returned when the write or notify
	// characteristic has not been located under the connected device.
	ErrEndpointsUnresolved = errors.New("m223s: endpoints not resolved")

	// ErrConnectFailed is returned when the link connect request fails.
	ErrConnectFailed = errors.New("m223s: connect failed")

	// ErrWriteFailed is returned when a characteristic write fails or
	// times out waiting for acknowledgement.
	ErrWriteFailed = errors.New("m223s: write failed")
)
