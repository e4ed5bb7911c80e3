package ipmi

import (
	"encoding/json"
	"testing"
)

func TestTopicIDRoundTrip(t *testing.T) {
	tests := []struct {
		id, encoded string
	}{
		{"Supermicro_rack3", "Supermicro_rack3"},
		{"Acme_rack/3", "Acme_rack%2F3"},
		{"a+b#c", "a%2Bb%23c"},
		{"100%", "100%25"},
		{"literal%2F", "literal%252F"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := EncodeTopicID(tt.id); got != tt.encoded {
				t.Errorf("EncodeTopicID(%q) = %q, want %q", tt.id, got, tt.encoded)
			}
			if got := DecodeTopicID(tt.encoded); got != tt.id {
				t.Errorf("DecodeTopicID(%q) = %q, want %q", tt.encoded, got, tt.id)
			}
		})
	}
}

func TestTopics(t *testing.T) {
	if got := StateTopic("Acme_rack/3"); got != "graylogic/state/ipmi/Acme_rack%2F3" {
		t.Errorf("StateTopic() = %s", got)
	}
	if got := CommandTopic("rack3"); got != "graylogic/command/ipmi/rack3" {
		t.Errorf("CommandTopic() = %s", got)
	}
	if got := HealthTopic(); got != "graylogic/health/ipmi" {
		t.Errorf("HealthTopic() = %s", got)
	}
	if got := lastSegment("graylogic/ack/ipmi/x"); got != "x" {
		t.Errorf("lastSegment() = %s", got)
	}
}

func TestNewAckError(t *testing.T) {
	cmd := CommandMessage{ID: "c1", DeviceID: "rack3", Command: "power_on"}
	ack := NewAckError(cmd, "10.0.0.5:623", ErrCodeDeviceUnreachable, "connection refused")

	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["status"] != "failed" || decoded["protocol"] != "ipmi" || decoded["command_id"] != "c1" {
		t.Errorf("ack = %v", decoded)
	}
	if e, _ := decoded["error"].(map[string]any); e["code"] != ErrCodeDeviceUnreachable {
		t.Errorf("ack error = %v", decoded["error"])
	}

	ok := NewAckMessage(cmd, AckAccepted, "10.0.0.5:623")
	if ok.Error != nil || ok.Status != AckAccepted {
		t.Errorf("NewAckMessage() = %+v", ok)
	}
}
