package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Payment, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]Payment, error)
	// Complete moves a PENDING payment to a final status. It reports false when
	// the payment was no longer pending.
	Complete(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]Payment, error)
	AddRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal, at time.Time) error

	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindRefundByKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Refund, error)
	FindRefundByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*Refund, error)
	PendingRefundTotal(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (decimal.Decimal, error)
	UpdateRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	ListRefunds(ctx context.Context, db *gorm.DB, orgID, paymentID snowflake.ID) ([]Refund, error)
}

type RefundInput struct {
	// Amount defaults to everything still refundable.
	Amount         *decimal.Decimal `json:"amount"`
	Reason         string           `json:"reason" validate:"max=500"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=200"`
}

type RefundService interface {
	Refund(ctx context.Context, paymentID snowflake.ID, input RefundInput) (*Result, error)
	ListRefunds(ctx context.Context, paymentID snowflake.ID) ([]Refund, error)
}
