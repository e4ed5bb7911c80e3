package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the lifecycle state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	healthCheckTimeout = 5 * time.Second
	readyPollInterval  = 200 * time.Millisecond
	maxOutputLine      = 64 * 1024
)

var (
	// ErrAlreadyRunning is returned by Start while a previous Start is
	// still supervising.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrUnhealthy is the exit reason of a process killed by the watchdog.
	ErrUnhealthy = errors.New("process unhealthy")
)

// Config describes the process and how it is supervised.
type Config struct {
	// Name identifies the process in logs and stats.
	Name string

	Binary  string
	Args    []string
	Env     []string // appended to the parent's environment
	WorkDir string

	// RestartOnFailure restarts the process after an unexpected exit.
	RestartOnFailure bool

	// RestartDelay is the first backoff step; each further attempt doubles
	// it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is the uptime after which the backoff starts again
	// from RestartDelay.
	StableThreshold time.Duration

	// MaxRestartAttempts caps consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck, when set, runs every HealthCheckInterval. After
	// MaxHealthFailures consecutive failures the process is killed and
	// handled like a crash.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
	MaxHealthFailures   int
}

// DefaultConfig returns a restarting Config for binary.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		MaxRestartAttempts: 10,
	}
}

// Logger is the logging interface used by Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a point-in-time view of the supervised process.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Manager supervises one child process.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	active    bool
	stopping  bool
	restarts  int
	lastErr   error
	startedAt time.Time
	stop      chan struct{}
	done      chan struct{}
}

// NewManager creates a stopped Manager, filling zero durations with
// defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.MaxHealthFailures <= 0 {
		cfg.MaxHealthFailures = 3
	}

	return &Manager{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the process and supervises it until Stop is called or
// ctx is cancelled. It fails if the binary cannot be started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", m.cfg.Name, ErrAlreadyRunning)
	}
	m.active = true
	m.stopping = false
	m.status = StatusStarting
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	exited, err := m.launch(ctx)
	if err != nil {
		m.mu.Lock()
		m.active = false
		m.status = StatusFailed
		m.lastErr = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx, exited)
	return nil
}

// launch starts the binary in a new process group. The returned channel
// receives the Wait result once its output has been drained.
func (m *Manager) launch(ctx context.Context) (<-chan error, error) {
	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = m.cfg.GracefulTimeout
	if m.cfg.Env != nil {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}
	cmd.Dir = m.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", m.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%s stderr: %w", m.cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.cfg.Name,
		"binary", m.cfg.Binary,
		"pid", cmd.Process.Pid,
	)

	var output sync.WaitGroup
	output.Add(2)
	go m.relay(&output, "stdout", stdout)
	go m.relay(&output, "stderr", stderr)

	exited := make(chan error, 1)
	go func() {
		output.Wait()
		exited <- cmd.Wait()
	}()
	return exited, nil
}

// relay logs the stream line by line until it closes.
func (m *Manager) relay(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxOutputLine)
	for sc.Scan() {
		m.logger.Debug("process output",
			"name", m.cfg.Name,
			"stream", stream,
			"line", sc.Text(),
		)
	}
	// Drain whatever is left after an over-long line so the child never
	// blocks on a full pipe.
	io.Copy(io.Discard, r) //nolint:errcheck // best effort
}

func (m *Manager) monitor(ctx context.Context, exited <-chan error) {
	defer func() {
		m.mu.Lock()
		m.active = false
		m.cmd = nil
		close(m.done)
		m.mu.Unlock()
	}()

	attempt := 0
	for {
		err := m.watch(exited)

		m.mu.Lock()
		stopping := m.stopping
		uptime := time.Since(m.startedAt)
		m.cmd = nil
		m.mu.Unlock()

		if stopping || ctx.Err() != nil {
			m.setStatus(StatusStopped, nil)
			m.logger.Info("process stopped", "name", m.cfg.Name)
			return
		}

		m.logger.Warn("process exited unexpectedly",
			"name", m.cfg.Name,
			"error", err,
			"uptime", uptime.String(),
		)
		m.setStatus(StatusFailed, exitError(err))
		if !m.cfg.RestartOnFailure {
			return
		}
		if uptime >= m.cfg.StableThreshold {
			attempt = 0
		}

		for {
			attempt++
			if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
				m.logger.Error("giving up on process",
					"name", m.cfg.Name,
					"attempts", attempt-1,
				)
				return
			}

			delay := m.calculateBackoffDelay(attempt)
			m.logger.Info("restarting process",
				"name", m.cfg.Name,
				"attempt", attempt,
				"delay", delay.String(),
			)
			select {
			case <-ctx.Done():
				m.setStatus(StatusStopped, nil)
				return
			case <-m.stop:
				m.setStatus(StatusStopped, nil)
				return
			case <-time.After(delay):
			}

			var launchErr error
			exited, launchErr = m.launch(ctx)
			if launchErr == nil {
				m.mu.Lock()
				m.restarts++
				m.mu.Unlock()
				break
			}
			m.logger.Error("failed to restart process", "name", m.cfg.Name, "error", launchErr)
			m.setStatus(StatusFailed, launchErr)
		}
	}
}

// watch waits for the process to exit, killing it if the health check
// fails MaxHealthFailures times in a row.
func (m *Manager) watch(exited <-chan error) error {
	if m.cfg.HealthCheck == nil {
		return <-exited
	}

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		err := m.cfg.HealthCheck(ctx)
		cancel()

		if err == nil {
			if failures > 0 {
				m.logger.Info("health check recovered", "name", m.cfg.Name, "previous_failures", failures)
			}
			failures = 0
			continue
		}

		failures++
		m.logger.Warn("health check failed",
			"name", m.cfg.Name,
			"error", err,
			"consecutive_failures", failures,
		)
		if failures < m.cfg.MaxHealthFailures {
			continue
		}

		m.logger.Error("killing unhealthy process", "name", m.cfg.Name, "failures", failures)
		m.signal(syscall.SIGKILL) //nolint:errcheck // exit is awaited below
		<-exited
		return fmt.Errorf("%w: %d consecutive health check failures: %v", ErrUnhealthy, failures, err)
	}
}

// calculateBackoffDelay returns RestartDelay doubled attempt-1 times,
// capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.cfg.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.MaxRestartDelay {
			return m.cfg.MaxRestartDelay
		}
	}
	return delay
}

// WaitHealthy blocks until the health check passes, the process stops, or
// ctx is done. Without a health check it returns at once.
func (m *Manager) WaitHealthy(ctx context.Context) error {
	if m.cfg.HealthCheck == nil {
		return nil
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		m.mu.RLock()
		active := m.active
		m.mu.RUnlock()
		if !active {
			return fmt.Errorf("%s exited before becoming healthy", m.cfg.Name)
		}

		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		lastErr = m.cfg.HealthCheck(checkCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w (last check: %v)", m.cfg.Name, ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

// Stop terminates the process group, escalating to SIGKILL after
// GracefulTimeout, and waits for supervision to end. Stopping a stopped
// manager is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.active || m.stopping {
		done := m.done
		m.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	m.stopping = true
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	m.logger.Info("stopping process", "name", m.cfg.Name)
	if err := m.signal(syscall.SIGTERM); err != nil {
		m.logger.Warn("failed to signal process", "name", m.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("graceful stop timed out, killing process",
			"name", m.cfg.Name,
			"timeout", m.cfg.GracefulTimeout.String(),
		)
	}

	if err := m.signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

// signal sends sig to the process group of the current child, if any.
func (m *Manager) signal(sig syscall.Signal) error {
	m.mu.RLock()
	cmd := m.cmd
	m.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process.Pid, sig)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	m.status = s
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}

// exitError turns a clean exit into an error so it is still reported.
func exitError(err error) error {
	if err == nil {
		return errors.New("exited with status 0")
	}
	return err
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the child is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// Stats returns a snapshot of the supervised process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Name:     m.cfg.Name,
		Status:   m.status,
		Restarts: m.restarts,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		s.Uptime = time.Since(m.startedAt)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
