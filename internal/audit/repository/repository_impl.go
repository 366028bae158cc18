package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns newest entries first and fetches one extra row so callers can
// tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{}).
		Where("org_id = ?", filter.OrgID).
		Scopes(
			equals("action", filter.Action),
			equals("target_type", filter.TargetType),
			equals("target_id", filter.TargetID),
			createdWithin(filter.Since, filter.Until),
			before(filter.AfterID),
		).
		Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func equals(column, value string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if value = strings.TrimSpace(value); value == "" {
			return db
		}
		return db.Where(column+" = ?", value)
	}
}

func createdWithin(since, until time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !since.IsZero() {
			db = db.Where("created_at >= ?", since)
		}
		if !until.IsZero() {
			db = db.Where("created_at < ?", until)
		}
		return db
	}
}

func before(id snowflake.ID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if id == 0 {
			return db
		}
		return db.Where("id < ?", id)
	}
}
