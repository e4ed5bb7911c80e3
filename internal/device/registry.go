package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Registry caches the repository's devices in memory. Reads are served from
// the cache; writes go to the repository first and then replace the cached
// copy. Returned devices are deep copies.
//
// All methods are safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository. Call on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	cache := make(map[string]*Device, len(devices))
	for i := range devices {
		cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice returns ErrDeviceNotFound if id is unknown.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()
	return d, nil
}

// ListDevices returns all cached devices ordered by name, then id.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// Register creates the device or refreshes its descriptive fields. A
// missing slug is generated from the ID. State and health already held for
// an existing device are kept.
func (r *Registry) Register(ctx context.Context, d *Device) error {
	if d.Slug == "" {
		d.Slug = GenerateSlug(d.ID)
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Upsert(ctx, d); err != nil {
		return err
	}
	stored, err := r.repo.GetByID(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("reloading device: %w", err)
	}

	r.cacheMu.Lock()
	_, existed := r.cache[d.ID]
	r.cache[d.ID] = stored
	r.cacheMu.Unlock()

	if existed {
		r.logger.Debug("device refreshed", "id", d.ID, "name", d.Name)
	} else {
		r.logger.Info("device registered", "id", d.ID, "name", d.Name, "host", d.Host)
	}
	return nil
}

// DeleteDevice removes a device and its history.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetDeviceState stores a new state snapshot. Called by the bridge after
// each poll that changed something.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State) error {
	if err := ValidateState(state); err != nil {
		return err
	}
	now := r.now()
	if err := r.repo.UpdateState(ctx, id, state, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.State = deepCopyMap(state)
		updated.StateUpdatedAt = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device state updated", "id", id)
	return nil
}

// SetDeviceHealth records reachability. Transitions are logged at Info.
func (r *Registry) SetDeviceHealth(ctx context.Context, id string, status HealthStatus) error {
	if err := ValidateHealthStatus(status); err != nil {
		return err
	}
	now := r.now()
	if err := r.repo.UpdateHealth(ctx, id, status, now); err != nil {
		return err
	}

	var previous HealthStatus
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		previous = cached.HealthStatus
		updated := cached.DeepCopy()
		updated.HealthStatus = status
		updated.HealthLastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	if previous != status {
		r.logger.Info("device health changed", "id", id, "from", previous, "to", status)
	}
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats is a registry summary for the metrics endpoint.
type Stats struct {
	TotalDevices   int                  `json:"total_devices"`
	ByHealthStatus map[HealthStatus]int `json:"by_health_status"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices:   len(r.cache),
		ByHealthStatus: make(map[HealthStatus]int),
	}
	for _, d := range r.cache {
		stats.ByHealthStatus[d.HealthStatus]++
	}
	return stats
}
