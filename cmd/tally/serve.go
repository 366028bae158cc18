package main

import (
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/scheduler"
	"github.com/smallbiznis/tally/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	var withoutScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the recurring billing scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				infrastructure(),
				migration.Module,
				domains(),
				scheduler.Module,
				server.Module,
			}
			if !withoutScheduler {
				opts = append(opts, scheduler.Lifecycle)
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withoutScheduler, "no-scheduler", false, "serve the API without running scheduled billing jobs")
	return cmd
}
