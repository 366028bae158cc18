package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	var rollback int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations, or roll back with --rollback",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg  config.Config
				conn *gorm.DB
				log  *zap.Logger
			)
			app := fx.New(infrastructure(), fx.Populate(&cfg, &conn, &log))
			if err := app.Err(); err != nil {
				return err
			}
			return runOnce(cmd.Context(), app, func(context.Context) error {
				if rollback == 0 {
					return migration.Apply(cfg, conn, log)
				}
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.Rollback(sqlDB, rollback); err != nil {
					return err
				}
				version, dirty, err := migration.Version(sqlDB)
				if err != nil {
					return err
				}
				log.Info("rolled back schema", zap.Int("steps", rollback), zap.Uint("version", version), zap.Bool("dirty", dirty))
				if dirty {
					return fmt.Errorf("schema version %d is dirty", version)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&rollback, "rollback", 0, "number of migrations to revert (postgres only)")
	return cmd
}
