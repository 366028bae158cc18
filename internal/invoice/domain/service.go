package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"gorm.io/gorm"
)

// GenerateRequest asks the builder for a draft of a project's billable work.
type GenerateRequest struct {
	ProjectID       snowflake.ID            `json:"project_id"`
	BillingType     billingmodeldomain.Type `json:"billing_type"`
	CustomLineItems []CustomLineItem        `json:"custom_line_items"`
	IncludeExpenses bool                    `json:"include_expenses"`
	// Force bills a fixed fee again even when a live invoice already carries it.
	Force bool      `json:"force"`
	Now   time.Time `json:"-"`
}

type CustomLineItem struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

// Builder turns unbilled work into a draft. It never writes.
type Builder interface {
	Build(ctx context.Context, req GenerateRequest) (*Draft, error)
}

type ListInvoiceRequest struct {
	ProjectID *snowflake.ID
	Status    InvoiceStatus
	pagination.Pagination
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type Service interface {
	GenerateInvoice(ctx context.Context, req GenerateRequest) (*Invoice, error)
	CreateDraft(ctx context.Context, draft *Draft) (*Invoice, error)
	Send(ctx context.Context, id snowflake.ID) (*Invoice, error)
	RecordPayment(ctx context.Context, id snowflake.ID, attempt paymentdomain.Attempt) (*paymentdomain.Result, error)
	MarkOverdue(ctx context.Context, id snowflake.ID) (*Invoice, error)
	Cancel(ctx context.Context, id snowflake.ID, req CancelRequest) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ListPayments(ctx context.Context, id snowflake.ID) ([]paymentdomain.Payment, error)
	// RenderInvoice returns the invoice as a standalone HTML document.
	RenderInvoice(ctx context.Context, id snowflake.ID) (string, error)
}

// Sweeper runs the periodic lifecycle jobs across every org.
type Sweeper interface {
	SweepOverdue(ctx context.Context, now time.Time, limit int) (int, error)
	ExpirePendingPayments(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice, items []InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	// FindForUpdate takes a row lock on dialects that support it.
	FindForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	Items(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, req ListInvoiceRequest, afterID snowflake.ID, limit int) ([]Invoice, error)
	// UpdateVersioned applies fields only when the stored version matches invoice.Version,
	// bumping it. It reports false on a version conflict.
	UpdateVersioned(ctx context.Context, db *gorm.DB, invoice *Invoice, fields map[string]any) (bool, error)
	NextNumber(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
	HasLiveReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, referenceType LineItemType, referenceID string) (bool, error)
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Invoice, error)
	PaidTotals(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]decimal.Decimal, error)
}
