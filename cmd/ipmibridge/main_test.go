package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const statusJSON = `{
	"success": true,
	"device": {"manufacturer_name": "Supermicro", "product_name": "X11SPM", "firmware_revision": "1.73"},
	"power_on": true,
	"sensors": {"temperature": {"cpu_temp": "CPU Temp"}},
	"states": {"cpu_temp": "41"}
}`

// fakeBridge answers the status call with statusJSON and every command with
// a 200, recording request paths.
type fakeBridge struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/" || r.URL.Path == "" {
		_, _ = w.Write([]byte(statusJSON))
		return
	}
	_, _ = w.Write([]byte(`{"success": true}`))
}

func (f *fakeBridge) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func startFakeBridge(t *testing.T) (*fakeBridge, string) {
	t.Helper()
	fb := &fakeBridge{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_IPMIDisabled verifies run refuses to start without the bridge.
func TestRun_IPMIDisabled(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
site:
  id: test-site
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
protocols:
  ipmi:
    enabled: false
`)

	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "nothing to run") {
		t.Fatalf("run() error = %v, want disabled error", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is invalid.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
site:
  id: test-site
database:
  path: ""
`)

	if err := run(context.Background(), path); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestPollCmd(t *testing.T) {
	_, url := startFakeBridge(t)

	out, err := execute(t, "poll", "--bridge-url", url, "--host", "10.0.0.5", "--alias", "rack3")
	if err != nil {
		t.Fatalf("poll error = %v (output %s)", err, out)
	}

	var got pollOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Identity != "Supermicro_rack3" {
		t.Errorf("identity = %q, want Supermicro_rack3", got.Identity)
	}
	if got.PowerStatus != "ON" || got.Info.SWVersion != "1.73" {
		t.Errorf("output = %+v", got)
	}
	if len(got.Sensors) != 1 || got.Sensors[0].Reading != "41" {
		t.Errorf("sensors = %+v", got.Sensors)
	}
}

func TestPollCmd_RequiresHost(t *testing.T) {
	if _, err := execute(t, "poll"); err == nil {
		t.Fatal("poll without --host succeeded")
	}
}

func TestPollCmd_BridgeDown(t *testing.T) {
	if _, err := execute(t, "poll", "--bridge-url", "http://127.0.0.1:1", "--host", "10.0.0.5", "--timeout", "500ms"); err == nil {
		t.Fatal("poll against a closed port succeeded")
	}
}

func TestCommandCmd(t *testing.T) {
	fb, url := startFakeBridge(t)

	out, err := execute(t, "command", "power_cycle", "--bridge-url", url, "--host", "10.0.0.5")
	if err != nil {
		t.Fatalf("command error = %v (output %s)", err, out)
	}
	if !strings.Contains(out, "power_cycle accepted") {
		t.Errorf("output = %q", out)
	}
	if paths := fb.Paths(); len(paths) != 1 || paths[0] != "/power_cycle" {
		t.Errorf("requests = %v, want [/power_cycle]", paths)
	}
}

func TestCommandCmd_UnknownCommand(t *testing.T) {
	fb, url := startFakeBridge(t)

	if _, err := execute(t, "command", "self_destruct", "--bridge-url", url, "--host", "10.0.0.5"); err == nil {
		t.Fatal("unknown command succeeded")
	}
	if paths := fb.Paths(); len(paths) != 0 {
		t.Errorf("requests = %v, want none", paths)
	}
}

func TestMigrateCmd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
site:
  id: test-site
database:
  path: "`+filepath.Join(dir, "test.db")+`"
`)

	out, err := execute(t, "--config", path, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v (output %s)", err, out)
	}
	if !strings.Contains(out, "applied") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "--config", path, "migrate")
	if err != nil {
		t.Fatalf("second migrate error = %v", err)
	}
	if !strings.Contains(out, "applied 0 migration(s)") {
		t.Errorf("second migrate output = %q, want nothing applied", out)
	}

	out, err = execute(t, "--config", path, "migrate", "--status")
	if err != nil {
		t.Fatalf("migrate --status error = %v", err)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("status output = %q", out)
	}
}
