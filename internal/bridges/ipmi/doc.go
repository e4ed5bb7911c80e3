// Package ipmi implements the IPMI bridge service for Gray Logic.
//
// Each configured BMC becomes a unit with its own StatusPoller and
// CommandDispatcher from the core ipmi package. The bridge polls every unit
// at its scan interval and translates between the IPMI HTTP bridge and the
// Gray Logic MQTT bus.
//
//	┌─────────────────┐          ┌─────────────────┐   HTTP    ┌─────────────┐
//	│   Gray Logic    │   MQTT   │   IPMI Bridge   │◄─────────►│ IPMI bridge │◄──► BMCs
//	│      Core       │◄────────►│   (this pkg)    │           └─────────────┘
//	└─────────────────┘          └─────────────────┘
//
// # Lifecycle
//
// Start refreshes all devices concurrently, each bounded by the request
// timeout. A device is registered after its first successful poll: its
// identity is derived from the snapshot, the registry record is written and
// a discovery message lists its entities. Devices that fail the initial
// refresh keep being polled.
//
// # Topics
//
//	graylogic/state/ipmi/{device}      retained state, "stale" on failure
//	graylogic/command/ipmi/{device}    power commands, plus on/off
//	graylogic/ack/ipmi/{device}        command acknowledgements
//	graylogic/request/ipmi/{id}        read_state, read_all
//	graylogic/response/ipmi/{id}       request replies
//	graylogic/discovery/ipmi           registered devices and entities
//	graylogic/health/ipmi              retained bridge health, LWT offline
//
// Device ids in topics are escaped with EncodeTopicID.
package ipmi
