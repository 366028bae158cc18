package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/tally/internal/invoice/repository"
	"github.com/smallbiznis/tally/internal/orgcontext"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	projectrepo "github.com/smallbiznis/tally/internal/project/repository"
	"github.com/smallbiznis/tally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrg = snowflake.ID(9)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestCalculateWithNothingRecorded(t *testing.T) {
	m := Calculate(1, nil, nil, nil)

	assert.True(t, m.TotalRevenue.IsZero())
	assert.True(t, m.ProfitMargin.IsZero())
	assert.True(t, m.HourlyRate.IsZero())
	assert.True(t, m.BillingEfficiency.IsZero())
}

func TestCalculateExpensesWithoutRevenue(t *testing.T) {
	m := Calculate(1, nil,
		[]projectdomain.TimeEntry{{Hours: dec("4"), CostRate: dec("50"), Billable: false}},
		[]projectdomain.Expense{{Amount: dec("20")}},
	)

	assert.True(t, m.TotalExpenses.Equal(dec("220")))
	assert.True(t, m.Profit.Equal(dec("-220")))
	assert.True(t, m.ProfitMargin.IsZero())
	assert.True(t, m.BillingEfficiency.IsZero())
}

func TestCompute(t *testing.T) {
	db := testutil.OpenDB(t,
		&invoicedomain.Invoice{},
		&projectdomain.Project{},
		&projectdomain.TimeEntry{},
		&projectdomain.Expense{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	projectID := node.Generate()

	require.NoError(t, db.Create(&projectdomain.Project{ID: projectID, OrgID: testOrg, ClientID: 1, Name: "App", Slug: "app", CreatedAt: now}).Error)
	for _, inv := range []struct {
		total  string
		status invoicedomain.InvoiceStatus
	}{{"600", invoicedomain.InvoiceStatusPaid}, {"400", invoicedomain.InvoiceStatusPaid}, {"999", invoicedomain.InvoiceStatusSent}} {
		require.NoError(t, db.Create(&invoicedomain.Invoice{
			ID: node.Generate(), OrgID: testOrg, ProjectID: projectID, ClientID: 1, ContractID: 1,
			InvoiceNumber: node.Generate().String(), Status: inv.status, Currency: "USD",
			Subtotal: dec(inv.total), Total: dec(inv.total), Version: 1, CreatedAt: now, UpdatedAt: now,
		}).Error)
	}
	for _, entry := range []projectdomain.TimeEntry{
		{Hours: dec("10"), CostRate: dec("40"), Approved: true, Billable: true},
		{Hours: dec("5"), CostRate: dec("40"), Approved: true, Billable: false},
		{Hours: dec("8"), CostRate: dec("40"), Approved: false, Billable: true},
	} {
		entry.ID, entry.OrgID, entry.ProjectID, entry.WorkDate, entry.CreatedAt = node.Generate(), testOrg, projectID, now, now
		require.NoError(t, db.Create(&entry).Error)
	}
	for _, expense := range []projectdomain.Expense{
		{Amount: dec("150"), Approved: true, Billable: true},
		{Amount: dec("75"), Approved: false, Billable: true},
	} {
		expense.ID, expense.OrgID, expense.ProjectID, expense.IncurredAt, expense.CreatedAt = node.Generate(), testOrg, projectID, now, now
		require.NoError(t, db.Create(&expense).Error)
	}

	svc := New(Params{DB: db, Log: zap.NewNop(), Projects: projectrepo.Provide(), Invoices: invoicerepo.Provide()})
	m, err := svc.Compute(orgcontext.WithOrgID(context.Background(), testOrg), projectID)
	require.NoError(t, err)

	assert.True(t, m.TotalRevenue.Equal(dec("1000")), m.TotalRevenue.String())
	assert.True(t, m.TotalExpenses.Equal(dec("750")), m.TotalExpenses.String())
	assert.True(t, m.TotalHours.Equal(dec("15")))
	assert.True(t, m.BillableHours.Equal(dec("10")))
	assert.True(t, m.Profit.Equal(dec("250")))
	assert.True(t, m.ProfitMargin.Equal(dec("25")))
	assert.True(t, m.HourlyRate.Equal(dec("66.67")), m.HourlyRate.String())
	assert.True(t, m.BillingEfficiency.Equal(dec("66.67")))

	_, err = svc.Compute(orgcontext.WithOrgID(context.Background(), testOrg), node.Generate())
	assert.ErrorIs(t, err, billingerror.ErrNotFound)
}
