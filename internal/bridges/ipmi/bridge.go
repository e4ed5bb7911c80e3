package ipmi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-ipmi/internal/audit"
	"github.com/nerrad567/gray-logic-ipmi/internal/device"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/mqtt"
	core "github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// refreshConcurrency bounds concurrent bridge requests when every
	// device is refreshed at once.
	refreshConcurrency = 8

	// commandRefreshDelay is how long after a successful command the device
	// is polled again, giving the BMC time to act.
	commandRefreshDelay = 2 * time.Second

	deviceType = "server"
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// DeviceRegistry persists device records, health and last state.
// *device.Registry satisfies it. Optional.
type DeviceRegistry interface {
	Register(ctx context.Context, d *device.Device) error
	ListDevices() []device.Device
	SetDeviceState(ctx context.Context, id string, state device.State) error
	SetDeviceHealth(ctx context.Context, id string, status device.HealthStatus) error
}

// StateRecorder appends to the state history.
// *device.SQLiteStateHistoryRepository satisfies it. Optional.
type StateRecorder interface {
	RecordStateChange(ctx context.Context, deviceID string, state device.State, source string) error
}

// TelemetryWriter receives numeric readings for the time-series store.
// *influxdb.Client satisfies it. Optional.
type TelemetryWriter interface {
	WriteSensorReading(deviceID, sensorID, category, unit string, value float64, at time.Time)
	WritePowerState(deviceID string, on bool, at time.Time)
}

// CommandAuditor records every command the bridge handles.
// *audit.SQLiteRepository satisfies it. Optional.
type CommandAuditor interface {
	Record(ctx context.Context, e *audit.Entry) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// Client talks to the IPMI HTTP bridge.
	Client *core.Client

	MQTTClient MQTTClient

	// Registry, History, Telemetry and Audit are optional.
	Registry  DeviceRegistry
	History   StateRecorder
	Telemetry TelemetryWriter
	Audit     CommandAuditor

	Logger  Logger
	Version string

	// Site is the installation id reported in health and discovery.
	Site string

	// Clock overrides the snapshot time source (tests).
	Clock func() time.Time
}

// Bridge polls every configured BMC and translates between the IPMI HTTP
// bridge and MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *Config
	site      string
	mqtt      MQTTClient
	registry  DeviceRegistry
	history   StateRecorder
	telemetry TelemetryWriter
	audit     CommandAuditor
	health    *HealthReporter

	units      []*unit
	byKey      map[string]*unit
	byIdentity map[string]*unit
	unitsMu    sync.RWMutex

	refreshes singleflight.Group

	onState   func(StateMessage)
	onStateMu sync.RWMutex

	pollsTotal      atomic.Uint64
	pollFailures    atomic.Uint64
	commandsSent    atomic.Uint64
	commandFailures atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance with one poller and dispatcher
// per configured device. Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("IPMI client is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if len(opts.Config.Devices) == 0 {
		return nil, ErrNoDevices
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		site:       opts.Site,
		mqtt:       opts.MQTTClient,
		registry:   opts.Registry,
		history:    opts.History,
		telemetry:  opts.Telemetry,
		audit:      opts.Audit,
		byKey:      make(map[string]*unit, len(opts.Config.Devices)),
		byIdentity: make(map[string]*unit, len(opts.Config.Devices)),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	for _, dc := range opts.Config.Devices {
		conn := dc.ToConnectionConfig()
		poller, err := core.NewPoller(conn, opts.Client,
			core.WithPollerLogger(opts.Logger),
			core.WithClock(opts.Clock),
		)
		if err != nil {
			ctxCancel()
			return nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
		dispatcher, err := core.NewDispatcher(conn, opts.Client, opts.Logger)
		if err != nil {
			ctxCancel()
			return nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}

		u := &unit{
			key:        dc.ID,
			conn:       conn,
			poller:     poller,
			dispatcher: dispatcher,
			interval:   opts.Config.GetScanInterval(dc),
		}
		b.units = append(b.units, u)
		b.byKey[u.key] = u
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Site:      opts.Site,
		Version:   version,
		BridgeURL: opts.Client.BaseURL(),
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Devices:   b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start refreshes every device once, subscribes to command and request
// topics, then starts the poll loops and health reporting.
//
// A device whose initial refresh fails is still polled; it is registered
// on its first successful poll.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	online, failed := b.refreshAll(ctx, device.StateHistorySourcePoll)
	b.logInfo("initial refresh complete", "online", online, "failed", len(failed))

	commandTopic := topics.BridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := topics.BridgeRequests(Protocol)
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	for _, u := range b.units {
		b.wg.Add(1)
		go b.pollLoop(u)
	}

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", len(b.units))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight requests
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// pollLoop polls one device at its scan interval until the bridge stops.
func (b *Bridge) pollLoop(u *unit) {
	defer b.wg.Done()

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			//nolint:errcheck // failures are recorded on the unit and logged
			b.refresh(b.ctx, u, device.StateHistorySourcePoll)
		}
	}
}

// refreshAll refreshes every device concurrently and reports how many
// answered and which did not.
func (b *Bridge) refreshAll(ctx context.Context, source string) (online int, failed []string) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, u := range b.units {
		u := u
		g.Go(func() error {
			_, err := b.refresh(gctx, u, source)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, u.key)
			} else {
				online++
			}
			// A failing device must not cancel the others.
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return an error

	return online, failed
}

// refresh polls a device now. Concurrent refreshes of the same device
// share a single bridge request.
//
// The shared request runs under the bridge's own context and request
// timeout, never under a caller's: a caller that gives up only stops
// waiting, and the device is not marked unreachable on its account.
func (b *Bridge) refresh(ctx context.Context, u *unit, source string) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}

	ch := b.refreshes.DoChan(u.key, func() (any, error) {
		return b.poll(u, source)
	})

	select {
	case <-ctx.Done():
		return core.Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.Snapshot{}, res.Err
		}
		return res.Val.(core.Snapshot).Clone(), nil
	}
}

// poll fetches the status of one device, bounded by the request timeout,
// and records the outcome. The outcome is recorded under the bridge context
// so a timed-out request can still mark the device unreachable.
func (b *Bridge) poll(u *unit, source string) (core.Snapshot, error) {
	b.pollsTotal.Add(1)

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.GetTimeout())
	snap, err := u.poller.Update(ctx)
	cancel()
	if err != nil {
		b.pollFailures.Add(1)
		// Requests aborted by Stop say nothing about the device.
		if b.ctx.Err() != nil {
			return core.Snapshot{}, err
		}
		b.markFailure(b.ctx, u, err)
		return core.Snapshot{}, err
	}

	b.markSuccess(b.ctx, u, snap, source)
	return snap, nil
}

func (b *Bridge) markFailure(ctx context.Context, u *unit, err error) {
	u.mu.Lock()
	wasOnline := u.online
	u.online = false
	u.lastErr = err
	u.failures++
	u.lastPoll = time.Now()
	id := u.identity
	registered := u.registered
	prev := u.published
	u.mu.Unlock()

	if wasOnline {
		b.logWarn("device unreachable", "device", u.key, "error", err)
	} else {
		b.logDebug("device poll failed", "device", u.key, "error", err)
	}

	if registered {
		b.setHealth(ctx, id, device.HealthStatusOffline)
	}
	if wasOnline && prev != nil {
		b.publishState(u, id, prev, true)
	}
}

func (b *Bridge) markSuccess(ctx context.Context, u *unit, snap core.Snapshot, source string) {
	id, registered := b.ensureRegistered(ctx, u, snap)

	state := snapshotState(snap)

	u.mu.Lock()
	wasOnline := u.online
	u.online = true
	u.lastErr = nil
	u.failures = 0
	u.lastPoll = snap.FetchedAt
	changed := !wasOnline || !reflect.DeepEqual(u.published, state)
	if changed {
		u.published = state
	}
	u.mu.Unlock()

	if !wasOnline {
		b.logInfo("device online", "device", u.key, "device_id", id)
	}

	if registered {
		b.setHealth(ctx, id, device.HealthStatusOnline)
	}

	if changed {
		b.publishState(u, id, state, false)
		if registered {
			b.persistState(ctx, id, state, source)
		}
	}

	b.writeTelemetry(id, snap)
}

// ensureRegistered derives the identity on the first successful poll and
// registers the device, retrying registration on later polls until it
// succeeds. A change of device info re-registers.
func (b *Bridge) ensureRegistered(ctx context.Context, u *unit, snap core.Snapshot) (string, bool) {
	info := snap.Info()

	u.mu.Lock()
	if u.identity == "" {
		u.identity = b.claimIdentity(u, snap)
	}
	id := u.identity
	current := u.registered && u.info == info
	u.mu.Unlock()

	if current {
		return id, true
	}

	if b.registry != nil {
		d := &device.Device{
			ID:              id,
			Name:            displayName(u.poller.Name()),
			Host:            u.conn.Host,
			Port:            u.conn.Port,
			Alias:           u.conn.Alias,
			Manufacturer:    info.Manufacturer,
			Model:           info.Model,
			FirmwareVersion: info.SWVersion,
		}
		if err := b.registry.Register(ctx, d); err != nil {
			b.logError("failed to register device", fmt.Errorf("device %s: %w", id, err))
			return id, false
		}
	}

	u.mu.Lock()
	u.registered = true
	u.info = info
	u.mu.Unlock()

	b.logInfo("device registered",
		"device", u.key,
		"device_id", id,
		"manufacturer", info.Manufacturer,
		"model", info.Model)

	b.publishDiscovery(u, id, snap)
	return id, true
}

// claimIdentity derives the identity of a unit and records it in the
// identity index. A stable identity already held by another unit is not
// shared: the later unit gets a fallback identity instead, so commands
// addressed by identity always reach one host.
func (b *Bridge) claimIdentity(u *unit, snap core.Snapshot) string {
	b.unitsMu.Lock()
	defer b.unitsMu.Unlock()

	if id, ok := core.StableIdentity(snap); ok {
		owner, taken := b.byIdentity[id]
		if !taken || owner == u {
			b.byIdentity[id] = u
			return id
		}
		b.logWarn("derived identity already in use, using fallback",
			"device", u.key,
			"device_id", id,
			"held_by", owner.key)
	}

	id := b.fallbackIdentity(u)
	b.byIdentity[id] = u
	return id
}

// fallbackIdentity returns the fallback identity already registered for
// the unit's host and port, or a new one.
func (b *Bridge) fallbackIdentity(u *unit) string {
	if b.registry != nil {
		for _, d := range b.registry.ListDevices() {
			if core.IsFallbackIdentity(d.ID) && d.Host == u.conn.Host && d.Port == u.conn.Port {
				return d.ID
			}
		}
	}

	id := core.FallbackIdentity()
	b.logWarn("no stable identity for device, using fallback",
		"device", u.key,
		"device_id", id)
	return id
}

func (b *Bridge) setHealth(ctx context.Context, id string, status device.HealthStatus) {
	if b.registry == nil {
		return
	}
	if err := b.registry.SetDeviceHealth(ctx, id, status); err != nil {
		b.logError("failed to update device health", fmt.Errorf("device %s: %w", id, err))
	}
}

func (b *Bridge) persistState(ctx context.Context, id string, state map[string]any, source string) {
	if b.registry != nil {
		if err := b.registry.SetDeviceState(ctx, id, device.State(state)); err != nil {
			b.logError("failed to update device state", fmt.Errorf("device %s: %w", id, err))
		}
	}
	if b.history != nil {
		if err := b.history.RecordStateChange(ctx, id, device.State(state), source); err != nil {
			b.logError("failed to record state history", fmt.Errorf("device %s: %w", id, err))
		}
	}
}

func (b *Bridge) writeTelemetry(id string, snap core.Snapshot) {
	if b.telemetry == nil {
		return
	}
	for _, s := range snap.SensorList() {
		if v, ok := s.Value(); ok {
			b.telemetry.WriteSensorReading(id, s.ID, s.Category, s.Unit, v, snap.FetchedAt)
		}
	}
	b.telemetry.WritePowerState(id, snap.PowerOn, snap.FetchedAt)
}

func (b *Bridge) publishState(u *unit, id string, state map[string]any, stale bool) {
	msg := NewStateMessage(id, u.address(), state, stale)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(id), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}

	b.onStateMu.RLock()
	fn := b.onState
	b.onStateMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (b *Bridge) publishDiscovery(u *unit, id string, snap core.Snapshot) {
	info := snap.Info()
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.cfg.Bridge.ID,
		Site:      b.site,
		Devices: []DiscoveredDevice{{
			Protocol:      Protocol,
			Address:       u.address(),
			DeviceID:      id,
			Type:          deviceType,
			Capabilities:  []string{"power", "sensors"},
			Manufacturer:  info.Manufacturer,
			Product:       info.Model,
			SWVersion:     info.SWVersion,
			SuggestedName: displayName(u.poller.Name()),
			Entities:      BuildEntities(id, snap),
			Actions:       core.CommandNames(),
		}},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// lookup resolves a configured id or a derived identity.
func (b *Bridge) lookup(id string) (*unit, error) {
	if u, ok := b.byKey[id]; ok {
		return u, nil
	}
	b.unitsMu.RLock()
	u, ok := b.byIdentity[id]
	b.unitsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return u, nil
}

// Devices returns the status of every configured device in config order.
func (b *Bridge) Devices() []DeviceStatus {
	out := make([]DeviceStatus, len(b.units))
	for i, u := range b.units {
		out[i] = u.status()
	}
	return out
}

// Device returns the status of one device.
func (b *Bridge) Device(id string) (DeviceStatus, error) {
	u, err := b.lookup(id)
	if err != nil {
		return DeviceStatus{}, err
	}
	return u.status(), nil
}

// Snapshot returns the last successful snapshot of a device. The bool is
// false until the device has answered once.
func (b *Bridge) Snapshot(id string) (core.Snapshot, bool, error) {
	u, err := b.lookup(id)
	if err != nil {
		return core.Snapshot{}, false, err
	}
	snap, ok := u.poller.Current()
	return snap, ok, nil
}

// Entities returns the entity descriptors of a registered device.
func (b *Bridge) Entities(id string) ([]Entity, error) {
	u, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	identity := u.getIdentity()
	snap, ok := u.poller.Current()
	if identity == "" || !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return BuildEntities(identity, snap), nil
}

// Actions returns the command names every device accepts.
func (b *Bridge) Actions() []string {
	return core.CommandNames()
}

// Refresh polls a device immediately.
func (b *Bridge) Refresh(ctx context.Context, id string) (core.Snapshot, error) {
	u, err := b.lookup(id)
	if err != nil {
		return core.Snapshot{}, err
	}
	return b.refresh(ctx, u, device.StateHistorySourceRefresh)
}

// Dispatch sends a named command to a device. Names are the power command
// names plus "on" and "off" for the chassis switch.
//
// Errors are ErrDeviceNotFound, *ipmi.UnknownCommandError or
// *ipmi.TransportError.
func (b *Bridge) Dispatch(ctx context.Context, id, name string) error {
	entry := audit.Entry{
		Command:   name,
		DeviceKey: id,
		CommandID: commandIDFrom(ctx),
		Source:    audit.SourceAPI,
	}

	u, err := b.lookup(id)
	if err == nil {
		entry.DeviceKey, entry.DeviceID = u.key, u.getIdentity()
		var cmd core.Command
		if cmd, err = ResolveCommand(name); err == nil {
			err = b.execute(ctx, u, cmd)
		}
	}
	b.recordCommand(entry, err)
	return err
}

type commandIDKey struct{}

// WithCommandID attaches a correlation id to ctx. Dispatch stores it in the
// command's audit entry.
func WithCommandID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, commandIDKey{}, id)
}

func commandIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(commandIDKey{}).(string)
	return id
}

// recordCommand writes one audit entry. Audit failures are logged and never
// change the command's result.
func (b *Bridge) recordCommand(e audit.Entry, err error) {
	if b.audit == nil {
		return
	}
	e.Outcome = audit.OutcomeAccepted
	if err != nil {
		e.Outcome = audit.OutcomeFailed
		e.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.GetTimeout())
	defer cancel()
	if rerr := b.audit.Record(ctx, &e); rerr != nil {
		b.logError("failed to record command", rerr)
	}
}

func (b *Bridge) execute(ctx context.Context, u *unit, cmd core.Command) error {
	b.commandsSent.Add(1)
	if err := u.dispatcher.Execute(ctx, cmd); err != nil {
		b.commandFailures.Add(1)
		return err
	}
	b.scheduleRefresh(u)
	return nil
}

// scheduleRefresh polls a device shortly after a command so its new state
// is published without waiting for the next tick.
func (b *Bridge) scheduleRefresh(u *unit) {
	select {
	case <-b.done:
		return
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		timer := time.NewTimer(commandRefreshDelay)
		defer timer.Stop()

		select {
		case <-b.done:
			return
		case <-timer.C:
		}

		//nolint:errcheck // failures are recorded on the unit and logged
		b.refresh(b.ctx, u, device.StateHistorySourceCommand)
	}()
}

// SetOnStateChange registers a callback for every published state message.
func (b *Bridge) SetOnStateChange(fn func(StateMessage)) {
	b.onStateMu.Lock()
	b.onState = fn
	b.onStateMu.Unlock()
}

// DeviceCounts implements DeviceCounter.
func (b *Bridge) DeviceCounts() (managed, online int) {
	for _, u := range b.units {
		u.mu.RLock()
		if u.online {
			online++
		}
		u.mu.RUnlock()
	}
	return len(b.units), online
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("%w: topic %s", ErrInvalidMessage, topic)
	}

	switch messageType := parts[1]; messageType {
	case "command":
		return b.handleCommand(topic, payload)
	case "request":
		return b.handleRequest(topic, payload)
	default:
		return fmt.Errorf("%w: unknown message type %s", ErrInvalidMessage, messageType)
	}
}

// handleCommand executes a command message and publishes one ack.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: command: %v", ErrInvalidMessage, err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = DecodeTopicID(lastSegment(topic))
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	entry := audit.Entry{
		Command:   cmd.Command,
		DeviceKey: cmd.DeviceID,
		CommandID: cmd.ID,
		Source:    audit.SourceMQTT,
	}

	u, err := b.lookup(cmd.DeviceID)
	if err != nil {
		b.recordCommand(entry, err)
		b.publishAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID))
		return nil
	}
	entry.DeviceKey, entry.DeviceID = u.key, u.getIdentity()

	c, err := ResolveCommand(cmd.Command)
	if err != nil {
		b.recordCommand(entry, err)
		b.publishAckError(cmd, u.address(), ErrCodeInvalidCommand, err.Error())
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.GetTimeout())
	defer cancel()

	err = b.execute(ctx, u, c)
	b.recordCommand(entry, err)

	switch {
	case err == nil:
		b.publishAck(cmd, u.address())
	case errors.Is(err, core.ErrTransport):
		b.publishAckError(cmd, u.address(), ErrCodeDeviceUnreachable, err.Error())
	default:
		b.publishAckError(cmd, u.address(), ErrCodeBridgeError, err.Error())
	}
	return nil
}

func (b *Bridge) publishAck(cmd CommandMessage, address string) {
	b.publishAckMessage(cmd.DeviceID, NewAckMessage(cmd, AckAccepted, address))
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.publishAckMessage(cmd.DeviceID, NewAckError(cmd, address, code, message))
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"code", code,
		"message", message)
}

func (b *Bridge) publishAckMessage(deviceID string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(deviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(topic string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: request: %v", ErrInvalidMessage, err)
	}
	if req.RequestID == "" {
		req.RequestID = DecodeTopicID(lastSegment(topic))
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return nil
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
	return nil
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidMessage, "device_id is required")
	}
	u, err := b.lookup(req.DeviceID)
	if err != nil {
		return errorResponse(req, ErrCodeNotConfigured, err.Error())
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.GetTimeout())
	defer cancel()

	snap, err := b.refresh(ctx, u, device.StateHistorySourceRefresh)
	if err != nil {
		return errorResponse(req, ErrCodeDeviceUnreachable, err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"device_id": u.getIdentity(),
			"state":     snapshotState(snap),
		},
	}
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	online, failed := b.refreshAll(b.ctx, device.StateHistorySourceRefresh)
	if failed == nil {
		failed = []string{}
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"devices": len(b.units),
			"online":  online,
			"failed":  failed,
		},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	MQTTConnected   bool   `json:"mqtt_connected"`
	Status          string `json:"status"`
	DevicesManaged  int    `json:"devices_managed"`
	DevicesOnline   int    `json:"devices_online"`
	PollsTotal      uint64 `json:"polls_total"`
	PollFailures    uint64 `json:"poll_failures"`
	CommandsSent    uint64 `json:"commands_sent"`
	CommandFailures uint64 `json:"command_failures"`
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	managed, online := b.DeviceCounts()
	status, _ := b.health.determineStatus()

	return BridgeMetrics{
		MQTTConnected:   b.mqtt.IsConnected(),
		Status:          string(status),
		DevicesManaged:  managed,
		DevicesOnline:   online,
		PollsTotal:      b.pollsTotal.Load(),
		PollFailures:    b.pollFailures.Load(),
		CommandsSent:    b.commandsSent.Load(),
		CommandFailures: b.commandFailures.Load(),
	}
}
