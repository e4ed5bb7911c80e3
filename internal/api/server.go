package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-ipmi/internal/audit"
	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/device"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/process"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeService is the part of the IPMI bridge the API drives.
// *ipmibridge.Bridge satisfies it.
type BridgeService interface {
	Devices() []ipmibridge.DeviceStatus
	Device(id string) (ipmibridge.DeviceStatus, error)
	Snapshot(id string) (ipmi.Snapshot, bool, error)
	Entities(id string) ([]ipmibridge.Entity, error)
	Actions() []string
	Refresh(ctx context.Context, id string) (ipmi.Snapshot, error)
	Dispatch(ctx context.Context, id, name string) error
	GetMetrics() ipmibridge.BridgeMetrics
}

// ProcessStats reports on the supervised IPMI HTTP bridge daemon.
// *process.Manager satisfies it.
type ProcessStats interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Bridge   BridgeService

	// History, Audit, Process and DB are optional.
	History device.StateHistoryRepository
	Audit   audit.Repository
	Process ProcessStats
	DB      *database.DB

	// ExternalHub, if set, is used instead of a hub created on Start. The
	// bridge broadcasts state changes through it.
	ExternalHub *Hub

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	registry    *device.Registry
	bridge      BridgeService
	history     device.StateHistoryRepository
	audit       audit.Repository
	process     ProcessStats
	db          *database.DB
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		bridge:    deps.Bridge,
		history:   deps.History,
		audit:     deps.Audit,
		process:   deps.Process,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
