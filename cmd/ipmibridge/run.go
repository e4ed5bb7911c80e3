package main

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/nerrad567/gray-logic-ipmi/migrations"

	"github.com/nerrad567/gray-logic-ipmi/internal/api"
	"github.com/nerrad567/gray-logic-ipmi/internal/audit"
	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/device"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/process"
)

// run is the service, separated from the command tree for testability.
// It blocks until ctx is cancelled; deferred closes run in reverse order of
// startup.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting IPMI bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Protocols.IPMI.Enabled {
		return fmt.Errorf("protocols.ipmi.enabled is false, nothing to run")
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	stateHistory := device.NewSQLiteStateHistoryRepository(db.DB)
	commandAudit := audit.NewSQLiteRepository(db.DB)
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// The hub outlives the bridge so the final stale/stopping states reach
	// connected clients.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	bridgeCfg, err := ipmibridge.LoadConfig(cfg.Protocols.IPMI.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading IPMI bridge config: %w", err)
	}
	log.Info("IPMI bridge config loaded",
		"path", cfg.Protocols.IPMI.ConfigFile,
		"bridge_url", bridgeCfg.Bridge.URL,
		"devices", len(bridgeCfg.Devices),
	)

	client, err := ipmi.NewClient(ipmi.ClientOptions{
		BaseURL: bridgeCfg.Bridge.URL,
		Timeout: bridgeCfg.GetTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating bridge client: %w", err)
	}

	var supervisor *process.Manager
	if bridgeCfg.Bridge.Process.Managed {
		supervisor, err = startBridgeProcess(ctx, bridgeCfg.Bridge.Process, client, log.Component("process"))
		if err != nil {
			return fmt.Errorf("starting IPMI HTTP bridge process: %w", err)
		}
		defer func() {
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping IPMI HTTP bridge process", "error", stopErr)
			}
		}()
	}

	bridge, err := startIPMIBridge(ctx, bridgeCfg, client, bridgeDeps{
		mqtt:     mqttClient,
		registry: deviceRegistry,
		history:  stateHistory,
		audit:    commandAudit,
		influx:   influxClient,
		hub:      hub,
		log:      log,
		site:     cfg.Site.ID,
	})
	if err != nil {
		return fmt.Errorf("starting IPMI bridge: %w", err)
	}
	defer func() {
		log.Info("stopping IPMI bridge")
		bridge.Stop()
	}()

	pruner := device.NewHistoryPruner(stateHistory, bridgeCfg.GetHistoryRetention(), bridgeCfg.Bridge.PruneSchedule)
	pruner.SetLogger(log.Component("history"))
	if startErr := pruner.Start(); startErr != nil {
		return fmt.Errorf("starting history pruning: %w", startErr)
	}
	defer pruner.Stop()

	if cfg.API.Enabled {
		var procStats api.ProcessStats
		if supervisor != nil {
			procStats = supervisor
		}
		apiServer, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Registry:    deviceRegistry,
			Bridge:      bridge,
			History:     stateHistory,
			Audit:       commandAudit,
			Process:     procStats,
			DB:          db,
			ExternalHub: hub,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order: API, pruner, bridge, bridge
	// process, InfluxDB, MQTT, database.
	log.Info("IPMI bridge stopped")
	return nil
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)
	return db, nil
}

type bridgeDeps struct {
	mqtt     *mqtt.Client
	registry *device.Registry
	history  *device.SQLiteStateHistoryRepository
	audit    *audit.SQLiteRepository
	influx   *influxdb.Client
	hub      *api.Hub
	log      *logging.Logger
	site     string
}

// startIPMIBridge creates the bridge, wires state changes into the
// WebSocket hub and starts polling.
func startIPMIBridge(ctx context.Context, cfg *ipmibridge.Config, client *ipmi.Client, deps bridgeDeps) (*ipmibridge.Bridge, error) {
	// A nil *influxdb.Client must not become a non-nil interface.
	var telemetry ipmibridge.TelemetryWriter
	if deps.influx != nil {
		telemetry = deps.influx
	}

	bridge, err := ipmibridge.NewBridge(ipmibridge.BridgeOptions{
		Config:     cfg,
		Client:     client,
		MQTTClient: deps.mqtt,
		Registry:   deps.registry,
		History:    deps.history,
		Telemetry:  telemetry,
		Audit:      deps.audit,
		Logger:     deps.log.Component("ipmi"),
		Version:    version,
		Site:       deps.site,
	})
	if err != nil {
		return nil, fmt.Errorf("creating IPMI bridge: %w", err)
	}
	bridge.SetOnStateChange(deps.hub.BroadcastState)

	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	deps.log.Info("IPMI bridge started", "devices", len(cfg.Devices))
	return bridge, nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Unreachable BMCs are not a startup failure: they are reported as
	// degraded health and retried on every poll.
	return nil
}
