// Package domain holds the work records invoices are built from.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Client struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	Email     string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Client) TableName() string { return "clients" }

type Project struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_projects_org_slug"`
	ClientID  snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex:ux_projects_org_slug"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Project) TableName() string { return "projects" }

// TimeEntry is logged work. CostRate is the internal cost per hour used for profitability.
type TimeEntry struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	OrgID       snowflake.ID    `gorm:"not null;index"`
	ProjectID   snowflake.ID    `gorm:"not null;index"`
	Description string          `gorm:"type:text"`
	Hours       decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	CostRate    decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0"`
	WorkDate    time.Time       `gorm:"not null"`
	Approved    bool            `gorm:"not null;default:false"`
	Billable    bool            `gorm:"not null"`
	BilledAt    *time.Time
	InvoiceID   *snowflake.ID `gorm:"index"`
	CreatedAt   time.Time     `gorm:"not null"`
}

func (TimeEntry) TableName() string { return "time_entries" }

type Expense struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	OrgID       snowflake.ID    `gorm:"not null;index"`
	ProjectID   snowflake.ID    `gorm:"not null;index"`
	Description string          `gorm:"type:text"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	IncurredAt  time.Time       `gorm:"not null"`
	Approved    bool            `gorm:"not null;default:false"`
	Billable    bool            `gorm:"not null"`
	BilledAt    *time.Time
	InvoiceID   *snowflake.ID `gorm:"index"`
	CreatedAt   time.Time     `gorm:"not null"`
}

func (Expense) TableName() string { return "expenses" }

type Milestone struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	ProjectID   snowflake.ID `gorm:"not null;index"`
	Name        string       `gorm:"type:text;not null"`
	Completed   bool         `gorm:"not null;default:false"`
	CompletedAt *time.Time
	BilledAt    *time.Time
	InvoiceID   *snowflake.ID `gorm:"index"`
	CreatedAt   time.Time     `gorm:"not null"`
}

func (Milestone) TableName() string { return "milestones" }

// SourceRefs lists the records an invoice bills, grouped by table.
type SourceRefs struct {
	TimeEntryIDs []snowflake.ID
	ExpenseIDs   []snowflake.ID
	MilestoneIDs []snowflake.ID
}

func (r SourceRefs) Empty() bool {
	return len(r.TimeEntryIDs) == 0 && len(r.ExpenseIDs) == 0 && len(r.MilestoneIDs) == 0
}
