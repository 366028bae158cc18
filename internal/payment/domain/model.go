// Package domain defines payments, refunds and the gateway contract the
// adapters implement.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Method string

const (
	MethodCard         Method = "CARD"
	MethodWallet       Method = "WALLET"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCheck        Method = "CHECK"
	MethodWireTransfer Method = "WIRE_TRANSFER"
	MethodCash         Method = "CASH"
)

func ParseMethod(raw string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case MethodCard, MethodWallet, MethodBankTransfer, MethodCheck, MethodWireTransfer, MethodCash:
		return m, true
	}
	return "", false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Payment is one attempt against an invoice. A PENDING payment reserves its
// amount so concurrent attempts cannot overpay while a gateway call is in flight.
type Payment struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payments_org_key,priority:1" json:"org_id"`
	InvoiceID      snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	Amount         decimal.Decimal   `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency       string            `gorm:"type:text;not null" json:"currency"`
	Method         Method            `gorm:"type:text;not null" json:"method"`
	Gateway        string            `gorm:"type:text;not null" json:"gateway"`
	Status         Status            `gorm:"type:text;not null;index" json:"status"`
	Reference      string            `gorm:"type:text" json:"reference,omitempty"`
	TransactionID  string            `gorm:"type:text" json:"transaction_id,omitempty"`
	FailureReason  string            `gorm:"type:text" json:"failure_reason,omitempty"`
	RefundedAmount decimal.Decimal   `gorm:"type:numeric(20,4);not null;default:0" json:"refunded_amount"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	// IdempotencyKey is the caller supplied key; nil when none was given.
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_payments_org_key,priority:2" json:"-"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// Refundable is the amount still available to refund.
func (p *Payment) Refundable() decimal.Decimal {
	if p.Status != StatusSucceeded {
		return decimal.Zero
	}
	return p.Amount.Sub(p.RefundedAmount)
}

// Refund records one refund call. Idempotency is enforced by the unique
// idempotency key and by the fingerprint of (payment, amount, reason).
type Refund struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_refunds_org_key,priority:1" json:"org_id"`
	PaymentID      snowflake.ID    `gorm:"not null;index" json:"payment_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency       string          `gorm:"type:text;not null" json:"currency"`
	Reason         string          `gorm:"type:text" json:"reason,omitempty"`
	IdempotencyKey string          `gorm:"type:text;not null;uniqueIndex:ux_refunds_org_key,priority:2" json:"idempotency_key"`
	Fingerprint    string          `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Status         Status          `gorm:"type:text;not null" json:"status"`
	TransactionID  string          `gorm:"type:text" json:"transaction_id,omitempty"`
	FailureReason  string          `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Refund) TableName() string { return "refunds" }

// Attempt is the input to a gateway call.
type Attempt struct {
	PaymentID snowflake.ID      `json:"-"`
	InvoiceID snowflake.ID      `json:"-"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	Method    Method            `json:"payment_method"`
	Reference string            `json:"payment_reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	// SourceToken is the stored card or wallet instrument, e.g. a Stripe PaymentMethod id.
	SourceToken string `json:"source_token,omitempty"`
	CustomerRef string `json:"customer_ref,omitempty"`
	// IdempotencyKey is forwarded to gateways that support it.
	IdempotencyKey string `json:"-"`
}

// Result is what a gateway reports. Failures are data, never Go errors.
type Result struct {
	Success       bool            `json:"success"`
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Error         string          `json:"error,omitempty"`
}

func Failed(paymentID string, amount decimal.Decimal, currency, reason string) Result {
	return Result{
		PaymentID: paymentID,
		Amount:    amount,
		Currency:  currency,
		Error:     reason,
	}
}

type RefundRequest struct {
	RefundID       snowflake.ID
	PaymentID      snowflake.ID
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Gateway moves money. It must not touch invoices and must convert every
// failure, including timeouts, into a Result with Success false.
type Gateway interface {
	Name() string
	Methods() []Method
	ProcessPayment(ctx context.Context, attempt Attempt) Result
	Refund(ctx context.Context, req RefundRequest) Result
}

var (
	ErrGatewayNotFound = errors.New("gateway_not_found")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidCurrency = errors.New("invalid_currency")
)
