package ipmi

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fixedCounter struct{ managed, online int }

func (f fixedCounter) DeviceCounts() (int, int) { return f.managed, f.online }

func TestHealthReporter_DetermineStatus(t *testing.T) {
	mq := NewMockMQTTClient()
	counter := &fixedCounter{managed: 2, online: 2}
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Publisher: mq, Devices: counter})

	if status, _ := h.determineStatus(); status != HealthHealthy {
		t.Errorf("status = %q, want healthy", status)
	}

	counter.online = 1
	status, reason := h.determineStatus()
	if status != HealthDegraded || reason != "1 of 2 devices unreachable" {
		t.Errorf("status = %q (%s), want degraded", status, reason)
	}

	mq.SetConnected(false)
	if status, reason := h.determineStatus(); status != HealthDegraded || reason != "MQTT disconnected" {
		t.Errorf("status = %q (%s), want degraded for MQTT", status, reason)
	}
}

func TestHealthReporter_Lifecycle(t *testing.T) {
	mq := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "ipmi-test",
		Site:      "site-01",
		Version:   "1.2.3",
		BridgeURL: "http://localhost:9595",
		Interval:  time.Hour,
		Publisher: mq,
		Devices:   fixedCounter{managed: 1, online: 1},
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	h.Start(context.Background())
	h.Stop()
	h.Stop()

	msgs := mq.PublishedTo(HealthTopic())
	if len(msgs) != 3 {
		t.Fatalf("health publishes = %d, want starting, initial, stopping", len(msgs))
	}

	var statuses []HealthStatus
	for _, m := range msgs {
		if !m.Retained {
			t.Error("health must be retained")
		}
		var hm HealthMessage
		if err := json.Unmarshal(m.Payload, &hm); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if hm.Site != "site-01" {
			t.Errorf("Site = %q, want site-01", hm.Site)
		}
		statuses = append(statuses, hm.Status)
	}
	if statuses[0] != HealthStarting || statuses[1] != HealthHealthy || statuses[2] != HealthStopping {
		t.Errorf("statuses = %v", statuses)
	}

	lwt, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload() error = %v", err)
	}
	var hm HealthMessage
	if err := json.Unmarshal(lwt, &hm); err != nil || hm.Status != HealthOffline || hm.Site != "site-01" {
		t.Errorf("LWT = %s", lwt)
	}
}
