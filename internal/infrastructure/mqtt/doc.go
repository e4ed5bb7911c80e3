// Package mqtt provides MQTT client connectivity for the IPMI bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The bridge publishes device state, acks, discovery and health, and
// consumes commands and requests, all under the graylogic/ topic tree:
//
//	Gray Logic Core ↔ MQTT Broker ↔ IPMI bridge ↔ HTTP bridge ↔ BMCs
//
// # Security Considerations
//
//   - TLS should be enabled in production (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands(mqtt.ProtocolIPMI), 1, handler)
//
// Tests that need a real broker are behind the "integration" build tag.
package mqtt
