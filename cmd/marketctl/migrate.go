package main

import (
	"fmt"

	"github.com/spf13/cobra"
	mysqlrepo "github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/mysql"
	"github.com/wyfcoding/numbermarket/pkg/db"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the marketplace tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "mysql" {
			return fmt.Errorf("migrate needs the mysql driver, got %q", cfg.Database.Driver)
		}
		conn, err := db.Init(db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		})
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := mysqlrepo.Migrate(cmd.Context(), conn.DB); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables\n", len(mysqlrepo.Models()))
		return nil
	},
}
