// Package mqtt provides MQTT client connectivity for cookerd.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// cookerd uses MQTT as the outward-facing bus: the appliance's status is
// published retained to the state topic, and the off topic is watched for
// turn-off triggers. The broker decouples home automation consumers from
// the Bluetooth session.
//
//	Consumers ↔ MQTT Broker ↔ cookerd ↔ BLE appliance
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Watch for turn-off triggers
//	err = client.Subscribe(mqtt.Topics{}.Off(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("off requested via %s", topic)
//	        return nil
//	    })
//
//	// Publish the appliance status, retained
//	client.Publish(mqtt.Topics{}.State(), payload, 1, true)
package mqtt
