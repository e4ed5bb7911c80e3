package mqtt

import "fmt"

// Topic roots.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// ProtocolIPMI is the protocol segment used by the IPMI bridge.
const ProtocolIPMI = "ipmi"

// Topics provides builders for MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState(mqtt.ProtocolIPMI, "Acme_rack3")
//	// Returns: "graylogic/state/ipmi/Acme_rack3"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/ipmi/Acme_rack3
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/ipmi/Acme_rack3
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/ipmi/Acme_rack3
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, deviceID)
}

// BridgeRequest returns the topic for requests to a bridge.
//
// Example: graylogic/request/ipmi/req-abc123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeResponse returns the topic for request responses from a bridge.
//
// Example: graylogic/response/ipmi/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/ipmi
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the topic for device discovery from a bridge.
//
// Example: graylogic/discovery/ipmi
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// ServiceStatus returns the online/offline topic of one MQTT client.
// It carries the LWT.
//
// Example: graylogic/system/status/graylogic-ipmi
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// BridgeCommands returns a pattern matching every command to one protocol.
//
// Pattern: graylogic/command/ipmi/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// BridgeRequests returns a pattern matching every request to one protocol.
//
// Pattern: graylogic/request/ipmi/+
func (Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: graylogic/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixBridge)
}

// AllTopics returns a pattern matching every graylogic topic.
//
// Pattern: graylogic/#
func (Topics) AllTopics() string {
	return TopicPrefixBridge + "/#"
}
