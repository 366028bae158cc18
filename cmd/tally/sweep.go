package main

import (
	"context"
	"strings"

	"github.com/smallbiznis/tally/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newSweepCmd() *cobra.Command {
	var jobs []string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every scheduled billing job once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			opts := []fx.Option{
				infrastructure(),
				domains(),
				scheduler.Module,
				fx.Populate(&sched),
			}
			if len(jobs) > 0 {
				opts = append(opts, fx.Decorate(func(cfg scheduler.Config) scheduler.Config {
					cfg.EnabledJobs = jobs
					return cfg
				}))
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				return sched.RunOnce(ctx)
			})
		},
	}
	cmd.Flags().StringSliceVar(&jobs, "job", nil, "limit the run to these jobs ("+
		strings.Join([]string{scheduler.JobRecurringInvoices, scheduler.JobOverdueSweep, scheduler.JobExpirePendingPayments}, ", ")+")")
	return cmd
}

