package mqtt

import "fmt"

// DefaultTopicBase is the base for all appliance topics.
//
// The full scheme: home/m223s/{state,off,health,bridge}
const DefaultTopicBase = "home/m223s"

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State()
//	// Returns: "home/m223s/state"
//
// A non-empty Base overrides the default prefix.
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base != "" {
		return t.Base
	}
	return DefaultTopicBase
}

// State returns the topic carrying the retained appliance status.
//
// Example: home/m223s/state
func (t Topics) State() string {
	return fmt.Sprintf("%s/state", t.base())
}

// Off returns the topic watched for turn-off triggers.
//
// Example: home/m223s/off
func (t Topics) Off() string {
	return fmt.Sprintf("%s/off", t.base())
}

// Health returns the topic carrying periodic bridge health reports.
//
// Example: home/m223s/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health", t.base())
}

// Availability returns the topic carrying the bridge's online/offline
// marker, including the broker-side last-will message.
//
// Example: home/m223s/bridge
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/bridge", t.base())
}

// All returns a pattern matching every topic under the base.
// Use with caution - this receives ALL traffic.
//
// Pattern: home/m223s/#
func (t Topics) All() string {
	return fmt.Sprintf("%s/#", t.base())
}
