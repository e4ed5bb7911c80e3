package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-ipmi/migrations"

	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ipmi/internal/infrastructure/database"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var (
		status bool
		down   bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // read-mostly, nothing to recover

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case status:
				applied, pending, err := db.MigrationStatus(ctx)
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT")
				for _, m := range applied {
					fmt.Fprintf(w, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(w, "%s\tpending\t-\n", m.Version)
				}
				return w.Flush()

			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back migration: %w", err)
				}
				fmt.Fprintln(out, "rolled back latest migration")
				return nil

			default:
				n, err := db.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				fmt.Fprintf(out, "applied %d migration(s) to %s\n", n, db.Path())
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list applied and pending migrations")
	cmd.Flags().BoolVar(&down, "down", false, "roll back the latest applied migration")
	cmd.MarkFlagsMutuallyExclusive("status", "down")
	return cmd
}
