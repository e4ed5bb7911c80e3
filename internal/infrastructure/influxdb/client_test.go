package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu        sync.Mutex
	lines     []string
	writeCode int
	pingCode  int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/ping":
		code := f.pingCode
		if code == 0 {
			code = http.StatusNoContent
		}
		w.WriteHeader(code)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		code := f.writeCode
		if code == 0 {
			code = http.StatusNoContent
		}
		if code >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bucket not found"}`))
			return
		}
		w.WriteHeader(code)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func newFakeInflux(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fi := &fakeInflux{}
	srv := httptest.NewServer(fi)
	t.Cleanup(srv.Close)

	return fi, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "ipmi",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// waitForLines polls until n lines arrived or the deadline passes.
func waitForLines(t *testing.T, fi *fakeInflux, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		lines := fi.Lines()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_PingFails(t *testing.T) {
	fi, cfg := newFakeInflux(t)
	fi.pingCode = http.StatusServiceUnavailable

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1", Bucket: "b"}
	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	_, cfg := newFakeInflux(t)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestWriteSensorReading(t *testing.T) {
	fi, cfg := newFakeInflux(t)
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Unix(1700000000, 0)
	client.WriteSensorReading("Acme_rack3", "cpu_temp", "temperature", "C", 42.5, at)
	client.WritePowerState("Acme_rack3", true, at)
	client.Flush()

	lines := waitForLines(t, fi, 2)
	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2", lines)
	}

	sensor, power := lines[0], lines[1]
	for _, want := range []string{
		influxdb.MeasurementSensor + ",",
		"category=temperature",
		"device_id=Acme_rack3",
		"sensor=cpu_temp",
		"unit=C",
		"value=42.5",
		"1700000000000000000",
	} {
		if !strings.Contains(sensor, want) {
			t.Errorf("sensor line %q missing %q", sensor, want)
		}
	}
	if !strings.HasPrefix(power, influxdb.MeasurementPower+",device_id=Acme_rack3 on=1i") {
		t.Errorf("power line = %q", power)
	}
}

func TestWriteErrorCallback(t *testing.T) {
	fi, cfg := newFakeInflux(t)
	fi.writeCode = http.StatusNotFound

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoint("x", map[string]string{"t": "v"}, map[string]interface{}{"f": 1})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("write error callback not invoked")
	}
}

func TestHealthCheck(t *testing.T) {
	fi, cfg := newFakeInflux(t)
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	fi.mu.Lock()
	fi.pingCode = http.StatusServiceUnavailable
	fi.mu.Unlock()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("HealthCheck() error = %v, want ErrConnectionFailed", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteAfterCloseIsNoop(t *testing.T) {
	fi, cfg := newFakeInflux(t)
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WritePowerState("d", false, time.Now())
	client.Flush()

	if n := len(fi.Lines()); n != 0 {
		t.Errorf("lines after Close = %d, want 0", n)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
}
