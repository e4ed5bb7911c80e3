// IPMI Bridge - server power and sensor telemetry for Gray Logic
//
// ipmibridge polls baseboard management controllers through an IPMI-to-HTTP
// bridge, publishes their power state and sensor readings over MQTT, keeps a
// local registry, state history and command audit trail in SQLite, and
// exposes power actions on MQTT and a REST API. With bridge.process.managed
// set in the bridge config it also supervises the HTTP bridge daemon.
//
// Subcommands:
//
//	ipmibridge [run]                      start the service (default)
//	ipmibridge poll --host 10.0.0.5       fetch one status and print it
//	ipmibridge command power_on --host …  send one power command
//	ipmibridge migrate                    apply database migrations
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the service.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ipmibridge",
		Short:         "Bridge IPMI-managed servers to MQTT and a REST API",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"service config file (env GRAYLOGIC_CONFIG)")

	root.AddCommand(
		newRunCmd(&configPath),
		newPollCmd(),
		newCommandCmd(),
		newMigrateCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
