package ipmi

import (
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/mqtt"
)

// MQTT message types for communication between Gray Logic Core and the IPMI
// bridge. They follow the same envelope as every other Gray Logic bridge.

// Protocol is the protocol identifier carried by every message.
const Protocol = mqtt.ProtocolIPMI

// CommandMessage is sent from Core to Bridge to execute a power command.
// Topic: graylogic/command/ipmi/{device}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the device identity or configured id. When empty the
	// topic segment is used.
	DeviceID string `json:"device_id"`

	// Command is one of the power command names, or "on"/"off" for the
	// chassis switch.
	Command string `json:"command"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the bridge accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/ipmi/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is host:port of the BMC.
	Address string `json:"address"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when device state changes.
// Topic: graylogic/state/ipmi/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`

	// Stale is set when the last poll failed and State is the previous
	// successful reading.
	Stale bool `json:"stale"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/ipmi
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Site          string       `json:"site,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// BridgeURL is the IPMI HTTP bridge in use.
	BridgeURL string `json:"bridge_url,omitempty"`

	DevicesManaged int `json:"devices_managed"`
	DevicesOnline  int `json:"devices_online"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// RequestMessage is sent from Core to Bridge for request/response operations.
// Topic: graylogic/request/ipmi/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" or "read_all".
	Action string `json:"action"`

	// DeviceID is the target device for read_state.
	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionReadAll   = "read_all"
)

// ResponseMessage is sent from Bridge to Core in response to a request.
// Topic: graylogic/response/ipmi/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage announces a device once it is registered.
// Topic: graylogic/discovery/ipmi
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Site      string             `json:"site,omitempty"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes one registered BMC and its entities.
type DiscoveredDevice struct {
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	DeviceID      string   `json:"device_id"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Product       string   `json:"product,omitempty"`
	SWVersion     string   `json:"sw_version,omitempty"`
	SuggestedName string   `json:"suggested_name,omitempty"`
	Entities      []Entity `json:"entities"`
	Actions       []string `json:"actions"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID, address string, state map[string]any, stale bool) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   address,
		Stale:     stale,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID, site string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Site:      site,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

var topics = mqtt.Topics{}

// StateTopic returns the state topic of a device.
func StateTopic(deviceID string) string {
	return topics.BridgeState(Protocol, EncodeTopicID(deviceID))
}

// CommandTopic returns the command topic of a device.
func CommandTopic(deviceID string) string {
	return topics.BridgeCommand(Protocol, EncodeTopicID(deviceID))
}

// AckTopic returns the acknowledgment topic of a device.
func AckTopic(deviceID string) string {
	return topics.BridgeAck(Protocol, EncodeTopicID(deviceID))
}

// ResponseTopic returns the response topic of a request.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, EncodeTopicID(requestID))
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// DiscoveryTopic returns the discovery topic.
func DiscoveryTopic() string {
	return topics.BridgeDiscovery(Protocol)
}

// Identities embed aliases chosen by operators, so they may contain
// characters MQTT reserves inside a topic level.
var (
	topicEncoder = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")
	topicDecoder = strings.NewReplacer("%2F", "/", "%2B", "+", "%23", "#", "%25", "%")
)

// EncodeTopicID makes an id safe to use as a single topic level.
func EncodeTopicID(id string) string {
	return topicEncoder.Replace(id)
}

// DecodeTopicID reverses EncodeTopicID.
func DecodeTopicID(segment string) string {
	return topicDecoder.Replace(segment)
}

// lastSegment returns the final level of a topic.
func lastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
