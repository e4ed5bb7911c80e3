package ipmi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// recordingLogger captures log calls by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func TestDispatchIssuesOneRequestPerCommand(t *testing.T) {
	for _, name := range CommandNames() {
		t.Run(name, func(t *testing.T) {
			fb, client := newTestBridge(t)
			fb.set(http.StatusOK, `{"success": true}`)

			d, err := NewDispatcher(testConn(), client, nil)
			if err != nil {
				t.Fatalf("NewDispatcher() error = %v", err)
			}

			if err := d.Dispatch(context.Background(), name); err != nil {
				t.Fatalf("Dispatch(%q) error = %v", name, err)
			}

			reqs := fb.Requests()
			if len(reqs) != 1 {
				t.Fatalf("requests = %d, want 1", len(reqs))
			}
			if got, want := reqs[0].URL.Path, "/"+name; got != want {
				t.Errorf("path = %q, want %q", got, want)
			}
			if got := reqs[0].URL.Query().Get("host"); got != "10.0.0.5" {
				t.Errorf("host query = %q, want 10.0.0.5", got)
			}
		})
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	fb, client := newTestBridge(t)
	d, err := NewDispatcher(testConn(), client, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	for _, name := range []string{"", "reboot", "POWER_ON", "power_on ", "status"} {
		err := d.Dispatch(context.Background(), name)
		if !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("Dispatch(%q) error = %v, want ErrUnknownCommand", name, err)
		}
		var uerr *UnknownCommandError
		if errors.As(err, &uerr) && uerr.Name != name {
			t.Errorf("UnknownCommandError.Name = %q, want %q", uerr.Name, name)
		}
	}

	if n := len(fb.Requests()); n != 0 {
		t.Errorf("requests = %d, want 0 for unknown commands", n)
	}
}

func TestExecuteInvalidCommandValue(t *testing.T) {
	fb, client := newTestBridge(t)
	d, _ := NewDispatcher(testConn(), client, nil)

	if err := d.Execute(context.Background(), Command(0)); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Execute(0) error = %v, want ErrUnknownCommand", err)
	}
	if n := len(fb.Requests()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestExecuteIgnoresResponseBody(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, `not json at all`)
	d, _ := NewDispatcher(testConn(), client, nil)

	if err := d.PowerCycle(context.Background()); err != nil {
		t.Errorf("PowerCycle() error = %v, want nil for unparsed body", err)
	}
}

func TestExecuteHTTPErrorIsLoggedAndReturned(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusInternalServerError, `{"success": false}`)
	log := &recordingLogger{}
	d, _ := NewDispatcher(testConn(), client, log)

	err := d.PowerOff(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("PowerOff() error = %v, want ErrTransport", err)
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not *TransportError", err)
	}
	if terr.Path != "power_off" {
		t.Errorf("TransportError.Path = %q, want power_off", terr.Path)
	}
	if log.count("error") != 1 {
		t.Errorf("error log entries = %d, want 1", log.count("error"))
	}
	if n := len(fb.Requests()); n != 1 {
		t.Errorf("requests = %d, want exactly 1 (no retry)", n)
	}
}

func TestExecuteUnreachableBridge(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	log := &recordingLogger{}
	d, _ := NewDispatcher(testConn(), client, log)

	if err := d.SoftShutdown(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("SoftShutdown() error = %v, want ErrTransport", err)
	}
	if log.count("error") != 1 {
		t.Errorf("error log entries = %d, want 1", log.count("error"))
	}
}

func TestDispatcherDoesNotTouchPoller(t *testing.T) {
	fb, client := newTestBridge(t)
	fb.set(http.StatusOK, acmeStatus)
	p := newTestPoller(t, testConn(), client)
	before, err := p.Update(context.Background())
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	d, _ := NewDispatcher(testConn(), client, nil)
	fb.set(http.StatusOK, `{"success": true, "power_on": false}`)
	if err := d.PowerOff(context.Background()); err != nil {
		t.Fatalf("PowerOff() error = %v", err)
	}

	after, _ := p.Current()
	if after.PowerOn != before.PowerOn {
		t.Error("dispatching a command changed the poller snapshot")
	}
}

func TestConvenienceMethodsHitExpectedPaths(t *testing.T) {
	fb, client := newTestBridge(t)
	d, _ := NewDispatcher(testConn(), client, nil)
	ctx := context.Background()

	calls := []func(context.Context) error{
		d.PowerOn, d.PowerOff, d.PowerCycle, d.PowerReset, d.SoftShutdown,
	}
	for _, call := range calls {
		if err := call(ctx); err != nil {
			t.Fatalf("command error = %v", err)
		}
	}

	reqs := fb.Requests()
	names := CommandNames()
	if len(reqs) != len(names) {
		t.Fatalf("requests = %d, want %d", len(reqs), len(names))
	}
	for i, r := range reqs {
		if r.URL.Path != "/"+names[i] {
			t.Errorf("request %d path = %q, want /%s", i, r.URL.Path, names[i])
		}
	}
}
