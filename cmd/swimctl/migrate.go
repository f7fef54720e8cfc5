package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/swimctl/swimctl/config"
	"github.com/swimctl/swimctl/internal/store"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == store.DriverSQLite {
				st, err := store.NewSQLite(cmd.Context(), cfg.Storage.SQLite.Path, nil)
				if err != nil {
					return err
				}
				log.Printf("sqlite schema applied at %s", cfg.Storage.SQLite.Path)
				return st.Close()
			}
			if err := store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			log.Printf("migrations %s applied", direction)
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "", "migrations source, e.g. file://migrations (default: embedded)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
