package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/internal/profitability/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Projects projectdomain.Repository
	Invoices invoicedomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	projects projectdomain.Repository
	invoices invoicedomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("profitability.service"),
		projects: p.Projects,
		invoices: p.Invoices,
	}
}

// Compute reads paid invoices, approved time and approved expenses of a
// project inside one transaction so the figures come from a single snapshot.
func (s *Service) Compute(ctx context.Context, projectID snowflake.ID) (*domain.Metrics, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}

	var (
		paid     []decimal.Decimal
		entries  []projectdomain.TimeEntry
		expenses []projectdomain.Expense
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ, READ ONLY").Error; err != nil {
				return err
			}
		}
		project, err := s.projects.FindProject(ctx, tx, orgID, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return billingerror.NotFound("profitability.compute", "project not found").WithProject(projectID)
		}
		if paid, err = s.invoices.PaidTotals(ctx, tx, orgID, projectID); err != nil {
			return err
		}
		if entries, err = s.projects.ApprovedTimeEntries(ctx, tx, orgID, projectID); err != nil {
			return err
		}
		expenses, err = s.projects.ApprovedExpenses(ctx, tx, orgID, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return Calculate(projectID, paid, entries, expenses), nil
}

// Calculate derives the metrics. Ratios are zero when their denominator is zero.
func Calculate(projectID snowflake.ID, paidTotals []decimal.Decimal, entries []projectdomain.TimeEntry, expenses []projectdomain.Expense) *domain.Metrics {
	revenue := sum(paidTotals)
	hours := lo.Reduce(entries, func(acc decimal.Decimal, e projectdomain.TimeEntry, _ int) decimal.Decimal {
		return acc.Add(e.Hours)
	}, decimal.Zero)
	billable := lo.Reduce(lo.Filter(entries, func(e projectdomain.TimeEntry, _ int) bool { return e.Billable }),
		func(acc decimal.Decimal, e projectdomain.TimeEntry, _ int) decimal.Decimal {
			return acc.Add(e.Hours)
		}, decimal.Zero)
	labor := lo.Reduce(entries, func(acc decimal.Decimal, e projectdomain.TimeEntry, _ int) decimal.Decimal {
		return acc.Add(e.Hours.Mul(e.CostRate))
	}, decimal.Zero)
	spent := sum(lo.Map(expenses, func(e projectdomain.Expense, _ int) decimal.Decimal { return e.Amount }))

	totalExpenses := spent.Add(labor).Round(2)
	revenue = revenue.Round(2)
	profit := revenue.Sub(totalExpenses)

	return &domain.Metrics{
		ProjectID:         projectID,
		TotalRevenue:      revenue,
		TotalExpenses:     totalExpenses,
		TotalHours:        hours,
		BillableHours:     billable,
		Profit:            profit,
		ProfitMargin:      ratio(profit.Mul(hundred), revenue),
		HourlyRate:        ratio(revenue, hours),
		BillingEfficiency: ratio(billable.Mul(hundred), hours),
	}
}

func ratio(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}
	return numerator.Div(denominator).Round(2)
}

func sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
