package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/audit"
	"github.com/smallbiznis/tally/internal/billingcycle"
	"github.com/smallbiznis/tally/internal/billingmodel"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/invoice"
	"github.com/smallbiznis/tally/internal/notify/email"
	"github.com/smallbiznis/tally/internal/observability"
	"github.com/smallbiznis/tally/internal/payment"
	"github.com/smallbiznis/tally/internal/profitability"
	"github.com/smallbiznis/tally/internal/project"
	"github.com/smallbiznis/tally/internal/report/export"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

// infrastructure is what every command needs before touching the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(NewSnowflakeNode),
		db.Module,
		clock.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

// domains wires the billing services shared by the server and the scheduler.
func domains() fx.Option {
	return fx.Options(
		audit.Module,
		project.Module,
		billingmodel.Module,
		billingcycle.Module,
		email.Module,
		payment.Module,
		invoice.Module,
		profitability.Module,
		export.Module,
	)
}

func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.GeneratorNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.GeneratorNode, err)
	}
	return node, nil
}

// runOnce starts app, calls fn and shuts the app down again.
func runOnce(ctx context.Context, app *fx.App, fn func(context.Context) error) (err error) {
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		if stopErr := app.Stop(stopCtx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
