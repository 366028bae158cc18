// Package builder turns a project's unbilled work into draft line items
// according to its active billing contract.
package builder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
	billingcycledomain "github.com/smallbiznis/tally/internal/billingcycle/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/orgcontext"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opBuild = "invoice.build"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Projects  projectdomain.Repository
	Contracts billingmodeldomain.Repository
	Cycles    billingcycledomain.Service
	Invoices  domain.Repository
}

type Builder struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	projects  projectdomain.Repository
	contracts billingmodeldomain.Repository
	cycles    billingcycledomain.Service
	invoices  domain.Repository
}

func New(p Params) domain.Builder {
	return &Builder{
		db:        p.DB,
		log:       p.Log.Named("invoice.builder"),
		clock:     p.Clock,
		projects:  p.Projects,
		contracts: p.Contracts,
		cycles:    p.Cycles,
		invoices:  p.Invoices,
	}
}

// Build prices everything billable for the project right now. It only reads;
// CreateDraft checks fixed fees and periods again under the sequence lock.
func (b *Builder) Build(ctx context.Context, req domain.GenerateRequest) (*domain.Draft, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	now := req.Now
	if now.IsZero() {
		now = b.clock.Now()
	}

	project, err := b.projects.FindProject(ctx, b.db, orgID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, billingerror.NotFound(opBuild, "project not found").WithProject(req.ProjectID)
	}
	contract, err := b.contracts.FindActiveByProject(ctx, b.db, orgID, project.ID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, billingerror.Configuration(opBuild, "project has no active billing model").WithProject(project.ID)
	}
	model, err := contract.BillingModel()
	if err != nil {
		return nil, err
	}
	if req.BillingType != "" && req.BillingType != model.Type() {
		return nil, billingerror.Configuration(opBuild,
			fmt.Sprintf("billing type %s does not match the project's %s model", req.BillingType, model.Type())).
			WithProject(project.ID)
	}

	var items []domain.LineItem
	for _, component := range billingmodeldomain.Components(model) {
		built, err := b.component(ctx, orgID, project, contract, component, req, now)
		if err != nil {
			return nil, err
		}
		items = append(items, built...)
	}

	if req.IncludeExpenses {
		expenses, err := b.projects.UnbilledExpenses(ctx, b.db, orgID, project.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, lo.Map(expenses, func(expense projectdomain.Expense, _ int) domain.LineItem {
			item := domain.FlatItem(domain.LineItemExpense, expense.ID.String(), describe(expense.Description, "Expense"), expense.Amount.Round(2))
			item.SourceID = lo.ToPtr(expense.ID)
			return item
		})...)
	}

	for i, custom := range req.CustomLineItems {
		item, err := customItem(i, custom)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	for _, item := range items {
		if err := item.Check(); err != nil {
			return nil, billingerror.Configuration(opBuild, err.Error()).WithProject(project.ID)
		}
	}

	cfg := contract.Configuration()
	return &domain.Draft{
		ProjectID:    project.ID,
		ClientID:     project.ClientID,
		ContractID:   contract.ID,
		Currency:     cfg.Currency,
		PaymentTerms: cfg.PaymentTerms,
		TaxRate:      cfg.TaxRate,
		DiscountRate: cfg.DiscountRate,
		LineItems:    items,
		Force:        req.Force,
		Totals:       domain.ComputeTotals(items, cfg.TaxRate, cfg.DiscountRate),
	}, nil
}

func (b *Builder) component(ctx context.Context, orgID snowflake.ID, project *projectdomain.Project, contract *billingmodeldomain.Contract, component billingmodeldomain.Model, req domain.GenerateRequest, now time.Time) ([]domain.LineItem, error) {
	switch m := component.(type) {
	case billingmodeldomain.Hourly:
		entries, err := b.projects.UnbilledTimeEntries(ctx, b.db, orgID, project.ID)
		if err != nil {
			return nil, err
		}
		return lo.Map(entries, func(entry projectdomain.TimeEntry, _ int) domain.LineItem {
			return domain.LineItem{
				Type:        domain.LineItemTimeEntry,
				ReferenceID: entry.ID.String(),
				SourceID:    lo.ToPtr(entry.ID),
				Description: describe(entry.Description, "Time "+entry.WorkDate.Format(time.DateOnly)),
				Quantity:    entry.Hours,
				Rate:        m.HourlyRate,
				Amount:      entry.Hours.Mul(m.HourlyRate).Round(2),
			}
		}), nil

	case billingmodeldomain.FixedFee:
		referenceID := FixedFeeReference(project.ID)
		if !req.Force {
			billed, err := b.invoices.HasLiveReference(ctx, b.db, orgID, domain.LineItemFlatFee, referenceID)
			if err != nil {
				return nil, err
			}
			if billed {
				return nil, nil
			}
		}
		item := domain.FlatItem(domain.LineItemFlatFee, referenceID, "Fixed fee: "+project.Name, m.Amount.Round(2))
		item.ContractID = lo.ToPtr(contract.ID)
		item.Component = string(m.Type())
		return []domain.LineItem{item}, nil

	case billingmodeldomain.MilestoneBased:
		milestones, err := b.projects.UnbilledMilestones(ctx, b.db, orgID, project.ID)
		if err != nil {
			return nil, err
		}
		items := make([]domain.LineItem, 0, len(milestones))
		for _, milestone := range milestones {
			payment, ok := m.PaymentFor(milestone.ID)
			if !ok {
				return nil, billingerror.NotFound(opBuild,
					fmt.Sprintf("milestone %s (%s) has no payment configured", milestone.ID, milestone.Name)).
					WithProject(project.ID)
			}
			amount, err := payment.Resolve(m.TotalValue)
			if err != nil {
				return nil, err
			}
			item := domain.FlatItem(domain.LineItemMilestone, milestone.ID.String(), describe(milestone.Name, "Milestone"), amount.Round(2))
			item.SourceID = lo.ToPtr(milestone.ID)
			items = append(items, item)
		}
		return items, nil

	case billingmodeldomain.Retainer:
		return b.periodItems(ctx, contract, m.Type(), m.Amount, "Retainer", now)

	case billingmodeldomain.Subscription:
		return b.periodItems(ctx, contract, m.Type(), m.Amount, "Subscription", now)
	}
	return nil, billingerror.Configuration(opBuild, fmt.Sprintf("unsupported billing component %s", component.Type()))
}

func (b *Builder) periodItems(ctx context.Context, contract *billingmodeldomain.Contract, kind billingmodeldomain.Type, amount decimal.Decimal, label string, now time.Time) ([]domain.LineItem, error) {
	periods, err := b.cycles.DuePeriods(ctx, b.db, contract, kind, now)
	if err != nil {
		return nil, err
	}
	return lo.Map(periods, func(period billingcycledomain.Period, _ int) domain.LineItem {
		description := fmt.Sprintf("%s %s", label, period.Start.Format(time.DateOnly))
		if period.End.After(period.Start) {
			description = fmt.Sprintf("%s %s to %s", label, period.Start.Format(time.DateOnly), period.End.Format(time.DateOnly))
		}
		item := domain.FlatItem(domain.LineItemSubscriptionPeriod, PeriodReference(kind, contract.ID, period.Start), description, amount.Round(2))
		item.ContractID = lo.ToPtr(contract.ID)
		item.Component = string(kind)
		item.PeriodStart = lo.ToPtr(period.Start)
		item.PeriodEnd = lo.ToPtr(period.End)
		return item
	}), nil
}

func customItem(index int, custom domain.CustomLineItem) (domain.LineItem, error) {
	description := strings.TrimSpace(custom.Description)
	if description == "" {
		return domain.LineItem{}, billingerror.Configuration(opBuild, fmt.Sprintf("custom item %d needs a description", index+1)).Wrap(domain.ErrInvalidLineItem)
	}
	quantity := custom.Quantity
	if quantity.IsZero() {
		quantity = decimal.NewFromInt(1)
	}
	if quantity.IsNegative() || custom.Rate.IsNegative() {
		return domain.LineItem{}, billingerror.Configuration(opBuild, fmt.Sprintf("custom item %d cannot be negative", index+1)).Wrap(domain.ErrInvalidLineItem)
	}
	return domain.LineItem{
		Type:        domain.LineItemCustom,
		ReferenceID: fmt.Sprintf("custom:%d", index+1),
		Description: description,
		Quantity:    quantity,
		Rate:        custom.Rate,
		Amount:      quantity.Mul(custom.Rate).Round(2),
	}, nil
}

// FixedFeeReference is the identity under which a project's fixed fee is billed once.
func FixedFeeReference(projectID snowflake.ID) string {
	return "fixed_fee:" + projectID.String()
}

func PeriodReference(kind billingmodeldomain.Type, contractID snowflake.ID, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(string(kind)), contractID, start.UTC().Format(time.DateOnly))
}

func describe(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
