// Package scheduler runs the periodic billing jobs: recurring invoice
// generation, the overdue sweep and expiry of stuck payment reservations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/tally/internal/billingcycle/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"github.com/smallbiznis/tally/internal/clock"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobRecurringInvoices     = "recurring_invoices"
	JobOverdueSweep          = "overdue_sweep"
	JobExpirePendingPayments = "expire_pending_payments"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Contracts billingmodeldomain.Repository
	Cycles    billingcycledomain.Service
	Invoices  invoicedomain.Service
	Sweeper   invoicedomain.Sweeper
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Config    Config                       `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	contracts billingmodeldomain.Repository
	cycles    billingcycledomain.Service
	invoices  invoicedomain.Service
	sweeper   invoicedomain.Sweeper
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Contracts == nil || p.Cycles == nil || p.Invoices == nil || p.Sweeper == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler"),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		contracts: p.Contracts,
		cycles:    p.Cycles,
		invoices:  p.Invoices,
		sweeper:   p.Sweeper,
		metrics:   p.Metrics,
	}, nil
}

// runJob bounds fn by timeout. A deadline counts as a soft timeout: it is
// recorded and logged but does not fail the pass.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(context.Context, *jobRun) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = s.withLogContext(ctx, name, 0)
	run := s.newJobRun(name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	start := time.Now()
	err := fn(ctx, run)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	s.metrics.AddBatchProcessed(name, run.processed)
	if err != nil && run.failed == 0 {
		run.failed++
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out", zap.String("job", name), zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	jobs := []struct {
		name string
		run  func(context.Context, *jobRun) error
	}{
		{JobRecurringInvoices, s.recurringInvoices},
		{JobOverdueSweep, s.overdueSweep},
		{JobExpirePendingPayments, s.expirePendingPayments},
	}

	var err error
	for _, job := range jobs {
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		if s.isJobEnabled(job.name) {
			err = errors.Join(err, s.runJob(ctx, job.name, job.run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now()

	for {
		s.metrics.ObserveRunLoopLag(time.Since(nextRun))
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}

// recurringInvoices drafts an invoice for every auto-invoicing contract that
// has a retainer or subscription period due. Drafts are not sent.
func (s *Scheduler) recurringInvoices(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	var (
		afterID snowflake.ID
		jobErr  error
	)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		contracts, err := s.contracts.ListAutoInvoice(ctx, s.db, afterID, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(contracts) == 0 {
			return jobErr
		}
		for i := range contracts {
			contract := &contracts[i]
			afterID = contract.ID
			if !contract.HasRecurringComponent() {
				continue
			}
			created, err := s.invoiceContract(ctx, contract, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(ctx, run, "scheduler.recurring.failed", contract.OrgID, err,
					zap.String("contract_id", contract.ID.String()),
					zap.String("project_id", contract.ProjectID.String()),
				)
				continue
			}
			if created != nil {
				run.AddProcessed(1)
				s.logger(s.withLogContext(ctx, run.job, contract.OrgID)).Info("scheduler.recurring.invoice_drafted",
					zap.String("invoice_id", created.ID.String()),
					zap.String("invoice_number", created.InvoiceNumber),
					zap.String("contract_id", contract.ID.String()),
				)
			}
		}
		if len(contracts) < s.cfg.BatchSize {
			return jobErr
		}
	}
}

func (s *Scheduler) invoiceContract(ctx context.Context, contract *billingmodeldomain.Contract, now time.Time) (*invoicedomain.Invoice, error) {
	due, err := s.isDue(ctx, contract, now)
	if err != nil || !due {
		return nil, err
	}
	ctx = orgcontext.WithOrgID(ctx, contract.OrgID)
	invoice, err := s.invoices.GenerateInvoice(ctx, invoicedomain.GenerateRequest{
		ProjectID: contract.ProjectID,
		Now:       now,
	})
	if errors.Is(err, invoicedomain.ErrNothingToBill) {
		return nil, nil
	}
	return invoice, err
}

func (s *Scheduler) isDue(ctx context.Context, contract *billingmodeldomain.Contract, now time.Time) (bool, error) {
	model, err := contract.BillingModel()
	if err != nil {
		return false, err
	}
	for _, component := range billingmodeldomain.Components(model) {
		kind := component.Type()
		if kind != billingmodeldomain.TypeRetainer && kind != billingmodeldomain.TypeSubscription {
			continue
		}
		periods, err := s.cycles.DuePeriods(ctx, s.db, contract, kind, now)
		if err != nil {
			return false, err
		}
		if len(periods) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) overdueSweep(ctx context.Context, run *jobRun) error {
	count, err := s.sweeper.SweepOverdue(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(count)
	return err
}

func (s *Scheduler) expirePendingPayments(ctx context.Context, run *jobRun) error {
	count, err := s.sweeper.ExpirePendingPayments(ctx, s.clock.Now().Add(-s.cfg.PendingPaymentTTL), s.cfg.BatchSize)
	run.AddProcessed(count)
	return err
}
