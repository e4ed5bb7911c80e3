package main

import (
	"context"
	"fmt"
	"time"

	ipmibridge "github.com/nerrad567/gray-logic-ipmi/internal/bridges/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ipmi/internal/ipmi"
	"github.com/nerrad567/gray-logic-ipmi/internal/process"
)

const bridgeProcessName = "ipmi-http-bridge"

// bridgeProcessConfig maps the bridge config onto the supervisor, using
// client.Ping as the health check.
func bridgeProcessConfig(cfg ipmibridge.ProcessConfig, client *ipmi.Client) process.Config {
	return process.Config{
		Name:                bridgeProcessName,
		Binary:              cfg.Binary,
		Args:                cfg.Args,
		Env:                 cfg.Env,
		WorkDir:             cfg.WorkDir,
		RestartOnFailure:    true,
		RestartDelay:        time.Duration(cfg.RestartDelay) * time.Second,
		MaxRestartDelay:     time.Duration(cfg.MaxRestartDelay) * time.Second,
		MaxRestartAttempts:  cfg.MaxRestarts,
		HealthCheck:         client.Ping,
		HealthCheckInterval: time.Duration(cfg.HealthInterval) * time.Second,
	}
}

// startBridgeProcess launches the IPMI HTTP bridge daemon and waits until
// its URL answers, so the first poll does not race its startup.
func startBridgeProcess(ctx context.Context, cfg ipmibridge.ProcessConfig, client *ipmi.Client, log *logging.Logger) (*process.Manager, error) {
	mgr := process.NewManager(bridgeProcessConfig(cfg, client))
	mgr.SetLogger(log)

	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.StartupTimeout)*time.Second)
	defer cancel()
	if err := mgr.WaitHealthy(waitCtx); err != nil {
		mgr.Stop() //nolint:errcheck // already failing
		return nil, fmt.Errorf("waiting for %s: %w", client.BaseURL(), err)
	}

	log.Info("IPMI HTTP bridge process ready",
		"binary", cfg.Binary,
		"pid", mgr.Stats().PID,
		"url", client.BaseURL(),
	)
	return mgr, nil
}
