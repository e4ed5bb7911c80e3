package ipmi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeBridge serves canned responses and records every request.
type fakeBridge struct {
	mu       sync.Mutex
	requests []*http.Request
	status   int
	body     string
	delay    time.Duration
}

func (f *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	status, body, delay := f.status, f.body, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeBridge) set(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.body = body
}

func (f *fakeBridge) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*http.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func newTestBridge(t *testing.T) (*fakeBridge, *Client) {
	t.Helper()
	fb := &fakeBridge{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return fb, client
}

func testConn() ConnectionConfig {
	return ConnectionConfig{
		Host:     "10.0.0.5",
		Port:     DefaultPort,
		Alias:    "rack3",
		Username: "ADMIN",
		Password: "secret",
	}
}

var fixedTime = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestPoller(t *testing.T, conn ConnectionConfig, client *Client) *Poller {
	t.Helper()
	p, err := NewPoller(conn, client, WithClock(func() time.Time { return fixedTime }))
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return p
}

const acmeStatus = `{
	"success": true,
	"device": {"manufacturer_name": "Acme", "product_name": "X1", "firmware_revision": "1.0"},
	"power_on": true,
	"sensors": {"temperature": {"cpu_temp": "CPU Temp"}, "fan": {"fan1": "FAN 1"}},
	"states": {"cpu_temp": "42", "fan1": 3600}
}`

func TestPollerUpdateSuccess(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, acmeStatus)
	p := newTestPoller(t, testConn(), client)

	got, err := p.Update(context.Background())
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := Snapshot{
		Device: map[string]string{
			"manufacturer_name": "Acme",
			"product_name":      "X1",
			"firmware_revision": "1.0",
		},
		PowerOn: true,
		Sensors: map[string]map[string]string{
			"temperature": {"cpu_temp": "CPU Temp"},
			"fan":         {"fan1": "FAN 1"},
		},
		States:    map[string]string{"cpu_temp": "42", "fan1": "3600"},
		Alias:     "rack3",
		FetchedAt: fixedTime,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Update() mismatch (-want +got):\n%s", diff)
	}

	cur, ok := p.Current()
	if !ok {
		t.Fatal("Current() ok = false after successful update")
	}
	if diff := cmp.Diff(want, cur); diff != "" {
		t.Errorf("Current() mismatch (-want +got):\n%s", diff)
	}
}

func TestPollerUpdateQuery(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, acmeStatus)
	p := newTestPoller(t, testConn(), client)

	if _, err := p.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reqs := fb.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	r := reqs[0]
	if r.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", r.Method)
	}
	if r.URL.Path != "" && r.URL.Path != "/" {
		t.Errorf("path = %q, want base path", r.URL.Path)
	}
	q := r.URL.Query()
	for key, want := range map[string]string{
		"host":     "10.0.0.5",
		"port":     "623",
		"user":     "ADMIN",
		"password": "secret",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestPollerUpdateOmitsEmptyCredentials(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, acmeStatus)
	conn := ConnectionConfig{Host: "bmc.local", Port: 623}
	p := newTestPoller(t, conn, client)

	if _, err := p.Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	q := fb.Requests()[0].URL.Query()
	if q.Has("user") || q.Has("password") {
		t.Errorf("query = %v, want no credentials", q)
	}
}

func TestPollerUpdateReplacesSnapshot(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, acmeStatus)
	p := newTestPoller(t, testConn(), client)

	if _, err := p.Update(context.Background()); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}

	fb.set(http.StatusOK, `{
		"success": true,
		"device": {"product_name": "X2"},
		"power_on": false,
		"sensors": {"voltage": {"vcore": "Vcore"}},
		"states": {"vcore": "1.2"}
	}`)
	got, err := p.Update(context.Background())
	if err != nil {
		t.Fatalf("second Update() error = %v", err)
	}

	want := Snapshot{
		Device:    map[string]string{"product_name": "X2"},
		PowerOn:   false,
		Sensors:   map[string]map[string]string{"voltage": {"vcore": "Vcore"}},
		States:    map[string]string{"vcore": "1.2"},
		Alias:     "rack3",
		FetchedAt: fixedTime,
	}
	cur, _ := p.Current()
	if diff := cmp.Diff(want, cur); diff != "" {
		t.Errorf("Current() after replace mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Update() mismatch (-want +got):\n%s", diff)
	}
}

func TestPollerUpdateFailureKeepsSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "bridge rejected",
			status:  http.StatusOK,
			body:    `{"success": false, "message": "auth failed"}`,
			wantErr: ErrBridgeRejected,
			wantMsg: "auth failed",
		},
		{
			name:    "rejected without message",
			status:  http.StatusOK,
			body:    `{"success": false}`,
			wantErr: ErrBridgeRejected,
			wantMsg: defaultRejectMessage,
		},
		{
			name:    "rejected with http error",
			status:  http.StatusInternalServerError,
			body:    `{"success": false}`,
			wantErr: ErrBridgeRejected,
			wantMsg: defaultRejectMessage + " (http 500)",
		},
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    `{"success": tru`,
			wantErr: ErrTransport,
		},
		{
			name:    "not json",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			wantErr: ErrTransport,
		},
		{
			name:    "nested state value",
			status:  http.StatusOK,
			body:    `{"success": true, "states": {"x": {"y": 1}}}`,
			wantErr: ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb, client := newTestBridge(t)
			fb.set(http.StatusOK, acmeStatus)
			p := newTestPoller(t, testConn(), client)

			before, err := p.Update(context.Background())
			if err != nil {
				t.Fatalf("initial Update() error = %v", err)
			}

			fb.set(tt.status, tt.body)
			_, err = p.Update(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
			}

			if tt.wantMsg != "" {
				var rej *BridgeRejectedError
				if !errors.As(err, &rej) {
					t.Fatalf("error %T is not *BridgeRejectedError", err)
				}
				if rej.Message != tt.wantMsg {
					t.Errorf("Message = %q, want %q", rej.Message, tt.wantMsg)
				}
			}

			after, ok := p.Current()
			if !ok {
				t.Fatal("Current() lost snapshot after failed update")
			}
			if diff := cmp.Diff(before, after); diff != "" {
				t.Errorf("snapshot changed after failure (-before +after):\n%s", diff)
			}
		})
	}
}

func TestPollerUpdateTimeout(t *testing.T) {
	fb := &fakeBridge{delay: time.Second, body: acmeStatus}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	p := newTestPoller(t, testConn(), client)

	_, err = p.Update(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Update() error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Update() error = %v, want wrapped DeadlineExceeded", err)
	}
	if _, ok := p.Current(); ok {
		t.Error("Current() ok = true after only a failed update")
	}
}

func TestPollerTransportErrorHidesPassword(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	p := newTestPoller(t, testConn(), client)

	_, err = p.Update(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Update() error = %v, want ErrTransport", err)
	}
	if msg := err.Error(); strings.Contains(msg, "secret") {
		t.Errorf("error message leaks password: %s", msg)
	}
}

func TestPollerCurrentIsCopy(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, acmeStatus)
	p := newTestPoller(t, testConn(), client)

	got, err := p.Update(context.Background())
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got.Device["manufacturer_name"] = "Mutated"
	got.Sensors["temperature"]["cpu_temp"] = "Mutated"

	cur, _ := p.Current()
	if cur.Device["manufacturer_name"] != "Acme" {
		t.Error("mutating returned snapshot changed the cached device map")
	}
	if cur.Sensors["temperature"]["cpu_temp"] != "CPU Temp" {
		t.Error("mutating returned snapshot changed the cached sensor map")
	}
}

func TestPollerName(t *testing.T) {
	_, client := newTestBridge(t)

	withAlias := newTestPoller(t, testConn(), client)
	if got := withAlias.Name(); got != "rack3" {
		t.Errorf("Name() = %q, want rack3", got)
	}

	noAlias := newTestPoller(t, ConnectionConfig{Host: "10.0.0.9", Port: 623}, client)
	if got := noAlias.Name(); got != "IPMI-10.0.0.9" {
		t.Errorf("Name() = %q, want IPMI-10.0.0.9", got)
	}
}

func TestNewPollerValidation(t *testing.T) {
	_, client := newTestBridge(t)

	tests := []struct {
		name   string
		conn   ConnectionConfig
		client *Client
	}{
		{"missing host", ConnectionConfig{Port: 623}, client},
		{"port zero", ConnectionConfig{Host: "h"}, client},
		{"port too large", ConnectionConfig{Host: "h", Port: 70000}, client},
		{"nil client", ConnectionConfig{Host: "h", Port: 623}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPoller(tt.conn, tt.client); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewPoller() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://bridge", "://bad"} {
		if _, err := NewClient(ClientOptions{BaseURL: raw}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("NewClient(%q) error = %v, want ErrInvalidConfig", raw, err)
		}
	}

	c, err := NewClient(ClientOptions{})
	if err != nil {
		t.Fatalf("NewClient(defaults) error = %v", err)
	}
	if c.BaseURL() != DefaultBridgeURL {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), DefaultBridgeURL)
	}
	if c.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", c.Timeout(), DefaultTimeout)
	}
}

func TestClientPing(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusNotFound, "")

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v, want nil for any HTTP status", err)
	}
	reqs := fb.Requests()
	if len(reqs) != 1 || reqs[0].Method != http.MethodHead || reqs[0].URL.RawQuery != "" {
		t.Errorf("requests = %v, want one bare HEAD", reqs)
	}

	down, err := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := down.Ping(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("Ping() on closed port error = %v, want ErrTransport", err)
	}
}
