// Package device is the registry of IPMI-managed machines.
//
// Each BMC polled by the bridge becomes a Device keyed by its derived
// identity. The Registry keeps an in-memory cache in front of a SQLite
// Repository; the bridge registers devices after their first successful
// status fetch and then records health, state and state history.
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	err := registry.Register(ctx, &device.Device{
//	    ID: "Supermicro_rack3", Name: "Rack3", Host: "10.0.0.5", Port: 623,
//	})
//	registry.SetDeviceHealth(ctx, "Supermicro_rack3", device.HealthStatusOnline)
//
// History lives in its own table and is pruned by a scheduled job:
//
//	history := device.NewSQLiteStateHistoryRepository(db.DB)
//	history.PruneHistory(ctx, 30*24*time.Hour)
//
// The Registry is safe for concurrent use.
package device
