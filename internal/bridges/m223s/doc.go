// Package m223s implements the Bluetooth LE bridge for the Redmond
// M223S multicooker.
//
// This package drives the appliance's vendor session protocol over
// BlueZ's D-Bus API and mirrors the appliance state onto MQTT.
//
// # Architecture
//
// The bridge operates as a translator between two buses:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   MQTT Broker   │   MQTT   │  M223S Bridge   │   D-Bus
//	│                 │◄────────►│   (this pkg)    │◄────────► BlueZ / BLE
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Discover the appliance by Bluetooth address via adapter scans
//   - Resolve the vendor UART service's write and notify endpoints
//   - Run the authorization handshake and periodic status queries
//   - Decode status notifications and publish them retained to MQTT
//   - Relay off-topic messages to the appliance as turn-off commands
//   - Enforce the idle-disconnect watchdog and discovery rate limit
//   - Publish health status and transport statistics
//
// # Session Lifecycle
//
// A session advances through three states: disconnected, connected, and
// authorized. Each poll cycle walks the session as far forward as the
// appliance allows; status queries are only issued once the appliance
// has granted authorization. A session that stays up past the idle
// ceiling is torn down so the next cycle starts from discovery.
//
// # Wire Format
//
// Commands and notifications share one frame layout:
//
//	[0x55, counter, command, payload..., 0xAA]
//
// The rolling counter correlates responses with requests. See frame.go
// for the known commands and response field offsets.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple
// goroutines.
//
// # References
//
//   - BlueZ D-Bus GATT API: https://github.com/bluez/bluez/blob/master/doc/org.bluez.GattCharacteristic.rst
package m223s
