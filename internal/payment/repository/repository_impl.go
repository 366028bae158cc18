package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return r.find(db.WithContext(ctx), orgID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return r.find(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orgID, id)
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Where("org_id = ? AND idempotency_key = ?", orgID, key).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) find(db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.Where("org_id = ? AND id = ?", orgID, id).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ? AND status = ?", payment.ID, domain.StatusPending).
		Updates(map[string]any{
			"status":         payment.Status,
			"transaction_id": payment.TransactionID,
			"reference":      payment.Reference,
			"failure_reason": payment.FailureReason,
			"completed_at":   payment.CompletedAt,
			"updated_at":     payment.UpdatedAt,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.StatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *repo) AddRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal, at time.Time) error {
	var payment domain.Payment
	if err := db.WithContext(ctx).Select("id", "refunded_amount").Where("id = ?", id).First(&payment).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"refunded_amount": payment.RefundedAmount.Add(amount),
			"updated_at":      at,
		}).Error
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Create(refund).Error
}

func (r *repo) FindRefundByKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Refund, error) {
	var refund domain.Refund
	err := db.WithContext(ctx).Where("org_id = ? AND idempotency_key = ?", orgID, key).First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repo) FindRefundByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.Refund, error) {
	var refund domain.Refund
	err := db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// PendingRefundTotal sums refunds still waiting on the gateway. Sums are done in Go to keep decimal precision on every dialect.
func (r *repo) PendingRefundTotal(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := db.WithContext(ctx).Model(&domain.Refund{}).
		Where("payment_id = ? AND status = ?", paymentID, domain.StatusPending).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *repo) UpdateRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Model(&domain.Refund{}).
		Where("id = ?", refund.ID).
		Updates(map[string]any{
			"status":         refund.Status,
			"transaction_id": refund.TransactionID,
			"failure_reason": refund.FailureReason,
			"fingerprint":    refund.Fingerprint,
			"updated_at":     refund.UpdatedAt,
		}).Error
}

func (r *repo) ListRefunds(ctx context.Context, db *gorm.DB, orgID, paymentID snowflake.ID) ([]domain.Refund, error) {
	var refunds []domain.Refund
	err := db.WithContext(ctx).
		Where("org_id = ? AND payment_id = ?", orgID, paymentID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}
