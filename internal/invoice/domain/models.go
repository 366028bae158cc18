// Package domain contains the invoice aggregate and its lifecycle states.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Terminal states never change again.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// AcceptsPayment is true for invoices that have been sent and are not settled.
func (s InvoiceStatus) AcceptsPayment() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusOverdue
}

type Invoice struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_invoices_org_number,priority:1" json:"org_id"`
	ProjectID      snowflake.ID      `gorm:"not null;index" json:"project_id"`
	ClientID       snowflake.ID      `gorm:"not null;index" json:"client_id"`
	ContractID     snowflake.ID      `gorm:"not null;index" json:"contract_id"`
	InvoiceNumber  string            `gorm:"type:text;not null;uniqueIndex:ux_invoices_org_number,priority:2" json:"invoice_number"`
	Status         InvoiceStatus     `gorm:"type:text;not null;default:'DRAFT';index" json:"status"`
	Currency       string            `gorm:"type:text;not null" json:"currency"`
	Subtotal       decimal.Decimal   `gorm:"type:numeric(20,4);not null" json:"subtotal"`
	DiscountRate   decimal.Decimal   `gorm:"type:numeric(7,4);not null;default:0" json:"discount_rate"`
	DiscountAmount decimal.Decimal   `gorm:"type:numeric(20,4);not null;default:0" json:"discount_amount"`
	TaxRate        decimal.Decimal   `gorm:"type:numeric(7,4);not null;default:0" json:"tax_rate"`
	TaxAmount      decimal.Decimal   `gorm:"type:numeric(20,4);not null;default:0" json:"tax_amount"`
	Total          decimal.Decimal   `gorm:"type:numeric(20,4);not null" json:"total"`
	PaymentTerms   int               `gorm:"not null;default:0" json:"payment_terms"`
	IssuedAt       *time.Time        `json:"issued_at,omitempty"`
	DueAt          *time.Time        `gorm:"index" json:"due_at,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason   string            `gorm:"type:text" json:"cancel_reason,omitempty"`
	Version        int64             `gorm:"not null;default:1" json:"version"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a persisted line item. SourceID points at the time entry,
// expense or milestone billed; ReferenceID is the stable identity used to
// avoid billing the same thing twice.
type InvoiceItem struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID    `gorm:"not null;index" json:"-"`
	InvoiceID     snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Position      int             `gorm:"not null" json:"position"`
	ReferenceType LineItemType    `gorm:"type:text;not null;index:ix_invoice_items_reference,priority:1" json:"type"`
	ReferenceID   string          `gorm:"type:text;not null;index:ix_invoice_items_reference,priority:2" json:"reference_id"`
	SourceID      *snowflake.ID   `gorm:"index" json:"source_id,omitempty"`
	ContractID    *snowflake.ID   `gorm:"index" json:"contract_id,omitempty"`
	Component     string          `gorm:"type:text" json:"component,omitempty"`
	PeriodStart   *time.Time      `json:"period_start,omitempty"`
	PeriodEnd     *time.Time      `json:"period_end,omitempty"`
	Description   string          `gorm:"type:text" json:"description"`
	Quantity      decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"quantity"`
	Rate          decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"rate"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// InvoiceSequence hands out invoice numbers per org.
type InvoiceSequence struct {
	OrgID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64        `gorm:"not null"`
}

func (InvoiceSequence) TableName() string { return "invoice_sequences" }
