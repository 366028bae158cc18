package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/billingmodel/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, contract *domain.Contract) error {
	return db.WithContext(ctx).Create(contract).Error
}

func (r *repo) FindActiveByProject(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) (*domain.Contract, error) {
	var contract domain.Contract
	err := db.WithContext(ctx).
		Where("org_id = ? AND project_id = ? AND active = ?", orgID, projectID, true).
		Order("starts_at DESC").
		First(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *repo) DeactivateProject(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Contract{}).
		Where("org_id = ? AND project_id = ? AND active = ?", orgID, projectID, true).
		Updates(map[string]any{"active": false, "ends_at": at, "updated_at": at}).Error
}

func (r *repo) ListAutoInvoice(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]domain.Contract, error) {
	var contracts []domain.Contract
	err := db.WithContext(ctx).
		Where("active = ? AND auto_invoice = ? AND id > ?", true, true, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&contracts).Error
	return contracts, err
}
