package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidHours  = errors.New("invalid_hours")
	ErrInvalidAmount = errors.New("invalid_amount")
)

// Repository reads and updates source records. Every query is scoped to an org.
// "Unbilled" means not yet billed and not referenced by any non-cancelled invoice.
type Repository interface {
	InsertClient(ctx context.Context, db *gorm.DB, client *Client) error
	InsertProject(ctx context.Context, db *gorm.DB, project *Project) error
	InsertTimeEntry(ctx context.Context, db *gorm.DB, entry *TimeEntry) error
	InsertExpense(ctx context.Context, db *gorm.DB, expense *Expense) error
	InsertMilestone(ctx context.Context, db *gorm.DB, milestone *Milestone) error

	FindProject(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) (*Project, error)
	FindClient(ctx context.Context, db *gorm.DB, orgID, clientID snowflake.ID) (*Client, error)

	UnbilledTimeEntries(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]TimeEntry, error)
	UnbilledExpenses(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]Expense, error)
	UnbilledMilestones(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]Milestone, error)

	ApprovedTimeEntries(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]TimeEntry, error)
	ApprovedExpenses(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID) ([]Expense, error)

	ApproveTimeEntry(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error)
	ApproveExpense(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error)
	CompleteMilestone(ctx context.Context, db *gorm.DB, orgID, milestoneID snowflake.ID, at time.Time) (bool, error)
	MarkBilled(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, refs SourceRefs, at time.Time) error
}

type CreateClientRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

type CreateProjectRequest struct {
	ClientID snowflake.ID `json:"client_id" validate:"required"`
	Name     string       `json:"name" validate:"required,max=200"`
}

type TimeEntryRequest struct {
	ProjectID   snowflake.ID    `json:"-"`
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
	CostRate    decimal.Decimal `json:"cost_rate"`
	WorkDate    time.Time       `json:"work_date"`
	Billable    *bool           `json:"billable"`
}

type ExpenseRequest struct {
	ProjectID   snowflake.ID    `json:"-"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	IncurredAt  time.Time       `json:"incurred_at"`
	Billable    *bool           `json:"billable"`
}

type MilestoneRequest struct {
	ProjectID snowflake.ID `json:"-"`
	Name      string       `json:"name" validate:"required,max=200"`
}

type Service interface {
	CreateClient(ctx context.Context, req CreateClientRequest) (*Client, error)
	CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error)
	GetProject(ctx context.Context, projectID snowflake.ID) (*Project, error)
	LogTime(ctx context.Context, req TimeEntryRequest) (*TimeEntry, error)
	ApproveTimeEntry(ctx context.Context, id snowflake.ID) error
	RecordExpense(ctx context.Context, req ExpenseRequest) (*Expense, error)
	ApproveExpense(ctx context.Context, id snowflake.ID) error
	CreateMilestone(ctx context.Context, req MilestoneRequest) (*Milestone, error)
	CompleteMilestone(ctx context.Context, id snowflake.ID) error
}
