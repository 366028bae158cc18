package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/pkg/db/option"
	"github.com/smallbiznis/tally/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, items []domain.InvoiceItem) error {
	if err := repository.ProvideStore[domain.Invoice](db).Create(ctx, invoice); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([]*domain.InvoiceItem, 0, len(items))
	for i := range items {
		rows = append(rows, &items[i])
	}
	return repository.ProvideStore[domain.InvoiceItem](db).BatchCreate(ctx, rows)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return repository.ProvideStore[domain.Invoice](db).FindOne(ctx, &domain.Invoice{OrgID: orgID, ID: id})
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return repository.ProvideStore[domain.Invoice](db).FindOne(ctx, &domain.Invoice{OrgID: orgID, ID: id}, option.ForUpdate())
}

func (r *repo) Items(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("position ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, req domain.ListInvoiceRequest, afterID snowflake.ID, limit int) ([]domain.Invoice, error) {
	filter := &domain.Invoice{OrgID: orgID, Status: req.Status}
	if req.ProjectID != nil {
		filter.ProjectID = *req.ProjectID
	}
	opts := []option.QueryOption{option.WithSortBy("id", true), option.WithLimit(limit + 1)}
	if afterID != 0 {
		opts = append(opts, option.WithWhere("id < ?", afterID))
	}
	rows, err := repository.ProvideStore[domain.Invoice](db).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, *row)
	}
	return invoices, nil
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, fields map[string]any) (bool, error) {
	updates := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		updates[key] = value
	}
	updates["version"] = invoice.Version + 1

	res := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("id = ? AND org_id = ? AND version = ?", invoice.ID, invoice.OrgID, invoice.Version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	invoice.Version++
	return true, nil
}

// NextNumber increments the org's counter inside the caller's transaction.
func (r *repo) NextNumber(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error) {
	seq := domain.InvoiceSequence{OrgID: orgID, LastValue: 1}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_value": gorm.Expr("invoice_sequences.last_value + 1"),
		}),
	}).Create(&seq).Error
	if err != nil {
		return 0, err
	}

	var current domain.InvoiceSequence
	if err := db.WithContext(ctx).Where("org_id = ?", orgID).First(&current).Error; err != nil {
		return 0, err
	}
	return current.LastValue, nil
}

func (r *repo) HasLiveReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, referenceType domain.LineItemType, referenceID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("invoice_items AS ii").
		Joins("JOIN invoices i ON i.id = ii.invoice_id").
		Where("ii.org_id = ? AND ii.reference_type = ? AND ii.reference_id = ?", orgID, referenceType, referenceID).
		Where("i.status <> ?", domain.InvoiceStatusCancelled).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?", domain.InvoiceStatusSent, now).
		Order("due_at ASC, id ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

// PaidTotals returns the total of every PAID invoice of a project; callers sum them with decimal precision.
func (r *repo) PaidTotals(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]decimal.Decimal, error) {
	var totals []decimal.Decimal
	err := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("org_id = ? AND project_id = ? AND status = ?", orgID, projectID, domain.InvoiceStatusPaid).
		Pluck("total", &totals).Error
	return totals, err
}
