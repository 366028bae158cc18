// Package domain describes the derived profitability figures of a project.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Metrics are recomputed on every request and never stored.
type Metrics struct {
	ProjectID         snowflake.ID    `json:"project_id"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalExpenses     decimal.Decimal `json:"total_expenses"`
	TotalHours        decimal.Decimal `json:"total_hours"`
	BillableHours     decimal.Decimal `json:"billable_hours"`
	Profit            decimal.Decimal `json:"profit"`
	ProfitMargin      decimal.Decimal `json:"profit_margin"`
	HourlyRate        decimal.Decimal `json:"hourly_rate"`
	BillingEfficiency decimal.Decimal `json:"billing_efficiency"`
}

type Service interface {
	Compute(ctx context.Context, projectID snowflake.ID) (*Metrics, error)
}
