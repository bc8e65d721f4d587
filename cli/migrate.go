package cli

import (
	"fmt"

	"github.com/kasuganosora/questkeeper/config"
	dbadapter "github.com/kasuganosora/questkeeper/db"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := dbadapter.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()
			if err := model.AutoMigrate(db); err != nil {
				return fmt.Errorf("db migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database migrated (%s)\n", cfg.Database.Mode)
			return nil
		},
	}
}
