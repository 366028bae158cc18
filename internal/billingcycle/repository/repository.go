package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/billingcycle/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type periodRow struct {
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

func (r *repo) LastBilledPeriod(ctx context.Context, db *gorm.DB, orgID, contractID snowflake.ID, component billingmodeldomain.Type) (*domain.Period, error) {
	var rows []periodRow
	err := db.WithContext(ctx).
		Table("invoice_items AS ii").
		Select("ii.period_start, ii.period_end").
		Joins("JOIN invoices i ON i.id = ii.invoice_id").
		Where("ii.org_id = ? AND ii.contract_id = ? AND ii.component = ?", orgID, contractID, string(component)).
		Where("ii.period_start IS NOT NULL").
		Where("i.status <> ?", "CANCELLED").
		Order("ii.period_start DESC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].PeriodStart == nil {
		return nil, nil
	}
	period := &domain.Period{Start: rows[0].PeriodStart.UTC()}
	if rows[0].PeriodEnd != nil {
		period.End = rows[0].PeriodEnd.UTC()
	}
	return period, nil
}
