package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	auditrepo "github.com/smallbiznis/tally/internal/audit/repository"
	auditservice "github.com/smallbiznis/tally/internal/audit/service"
	"github.com/smallbiznis/tally/internal/billingcycle/repository"
	billingcycleservice "github.com/smallbiznis/tally/internal/billingcycle/service"
	"github.com/smallbiznis/tally/internal/billingerror"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	billingmodelrepo "github.com/smallbiznis/tally/internal/billingmodel/repository"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/invoice/builder"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/invoice/render"
	invoicerepo "github.com/smallbiznis/tally/internal/invoice/repository"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/internal/payment/adapters"
	"github.com/smallbiznis/tally/internal/payment/adapters/manual"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/tally/internal/payment/repository"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	projectrepo "github.com/smallbiznis/tally/internal/project/repository"
	"github.com/smallbiznis/tally/internal/testutil"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testOrg = snowflake.ID(42)

var start = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type cardGateway struct {
	calls   atomic.Int32
	decline bool
	delay   time.Duration
}

func (g *cardGateway) Name() string { return "card" }

func (g *cardGateway) Methods() []paymentdomain.Method {
	return []paymentdomain.Method{paymentdomain.MethodCard}
}

func (g *cardGateway) ProcessPayment(ctx context.Context, attempt paymentdomain.Attempt) paymentdomain.Result {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.decline {
		return paymentdomain.Failed(attempt.PaymentID.String(), attempt.Amount, attempt.Currency, "card declined")
	}
	return paymentdomain.Result{
		Success:       true,
		PaymentID:     attempt.PaymentID.String(),
		TransactionID: "ch_" + attempt.PaymentID.String(),
		Amount:        attempt.Amount,
		Currency:      attempt.Currency,
	}
}

func (g *cardGateway) Refund(ctx context.Context, req paymentdomain.RefundRequest) paymentdomain.Result {
	return paymentdomain.Result{Success: true, Amount: req.Amount, Currency: req.Currency}
}

type recordingMailer struct {
	to      []string
	subject string
	body    string
	err     error
}

func (m *recordingMailer) Send(_ context.Context, to []string, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	card     *cardGateway
	projects projectdomain.Repository
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	db := testutil.OpenDB(t,
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceSequence{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&auditdomain.AuditLog{},
		&projectdomain.Client{},
		&projectdomain.Project{},
		&projectdomain.TimeEntry{},
		&projectdomain.Expense{},
		&projectdomain.Milestone{},
		&billingmodeldomain.Contract{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(start)
	log := zap.NewNop()

	invoices := invoicerepo.Provide()
	projects := projectrepo.Provide()
	card := &cardGateway{}
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	cycles := billingcycleservice.NewService(billingcycleservice.ServiceParam{
		Log: log, Repo: repository.Provide(),
	})
	b := builder.New(builder.Params{
		DB:        db,
		Log:       log,
		Clock:     clk,
		Projects:  projects,
		Contracts: billingmodelrepo.Provide(),
		Cycles:    cycles,
		Invoices:  invoices,
	})

	svc := NewService(ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Cfg:        config.Config{AppName: "Acme Studio", GatewayTimeout: timeout},
		BillingCfg: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Repo:       invoices,
		Builder:    b,
		Payments:   paymentrepo.Provide(),
		Projects:   projects,
		Registry:   adapters.NewRegistry(card, manual.New()),
		Renderer:   render.NewRenderer(),
		AuditSvc:   audit,
	})
	return &fixture{svc: svc, db: db, node: node, clock: clk, card: card, projects: projects}
}

func ctxWithOrg() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrg)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// seedProject creates a client, a project and its active contract.
func (f *fixture) seedProject(t *testing.T, model billingmodeldomain.Model, taxRate, discountRate string) *projectdomain.Project {
	t.Helper()
	ctx := context.Background()
	client := &projectdomain.Client{ID: f.node.Generate(), OrgID: testOrg, Name: "Globex", Email: "ap@globex.test", CreatedAt: start}
	require.NoError(t, f.projects.InsertClient(ctx, f.db, client))
	project := &projectdomain.Project{ID: f.node.Generate(), OrgID: testOrg, ClientID: client.ID, Name: "Website", Slug: "website-" + client.ID.String(), CreatedAt: start}
	require.NoError(t, f.projects.InsertProject(ctx, f.db, project))

	raw, err := billingmodeldomain.EncodeModel(model)
	require.NoError(t, err)
	contract := &billingmodeldomain.Contract{
		ID:           f.node.Generate(),
		OrgID:        testOrg,
		ProjectID:    project.ID,
		ModelType:    model.Type(),
		Model:        raw,
		BillingCycle: billingmodeldomain.CycleMonthly,
		PaymentTerms: 30,
		TaxRate:      dec(taxRate),
		DiscountRate: dec(discountRate),
		Currency:     "USD",
		StartsAt:     start,
		Active:       true,
		CreatedAt:    start,
		UpdatedAt:    start,
	}
	require.NoError(t, billingmodelrepo.Provide().Insert(ctx, f.db, contract))
	return project
}

func (f *fixture) logTime(t *testing.T, projectID snowflake.ID, hours string) *projectdomain.TimeEntry {
	t.Helper()
	entry := &projectdomain.TimeEntry{
		ID:        f.node.Generate(),
		OrgID:     testOrg,
		ProjectID: projectID,
		Hours:     dec(hours),
		CostRate:  dec("40"),
		WorkDate:  start,
		Approved:  true,
		Billable:  true,
		CreatedAt: start,
	}
	require.NoError(t, f.projects.InsertTimeEntry(context.Background(), f.db, entry))
	return entry
}

func (f *fixture) addExpense(t *testing.T, projectID snowflake.ID, description, amount string) *projectdomain.Expense {
	t.Helper()
	expense := &projectdomain.Expense{
		ID:          f.node.Generate(),
		OrgID:       testOrg,
		ProjectID:   projectID,
		Description: description,
		Amount:      dec(amount),
		IncurredAt:  start,
		Approved:    true,
		Billable:    true,
		CreatedAt:   start,
	}
	require.NoError(t, f.projects.InsertExpense(context.Background(), f.db, expense))
	return expense
}

func (f *fixture) completeMilestone(t *testing.T, projectID, id snowflake.ID, name string) {
	t.Helper()
	milestone := &projectdomain.Milestone{
		ID:          id,
		OrgID:       testOrg,
		ProjectID:   projectID,
		Name:        name,
		Completed:   true,
		CompletedAt: &start,
		CreatedAt:   start,
	}
	require.NoError(t, f.projects.InsertMilestone(context.Background(), f.db, milestone))
}

func (f *fixture) sentInvoice(t *testing.T, amount string) *invoicedomain.Invoice {
	t.Helper()
	project := f.seedProject(t, billingmodeldomain.FixedFee{Amount: dec(amount)}, "0", "0")
	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)
	invoice, err = f.svc.Send(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	return invoice
}

func paginationOf(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}

func pay(amount string, method paymentdomain.Method) paymentdomain.Attempt {
	return paymentdomain.Attempt{Amount: dec(amount), Currency: "USD", Method: method}
}

func TestHourlyInvoiceTotals(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Hourly{HourlyRate: dec("100")}, "10", "0")
	f.logTime(t, project.ID, "3")
	f.logTime(t, project.ID, "5")

	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)

	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoice.Status)
	assert.Equal(t, "INV-000001", invoice.InvoiceNumber)
	assert.Len(t, invoice.Items, 2)
	assert.True(t, invoice.Subtotal.Equal(dec("800")), invoice.Subtotal.String())
	assert.True(t, invoice.TaxAmount.Equal(dec("80")))
	assert.True(t, invoice.Total.Equal(dec("880")), invoice.Total.String())

	stored, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, 1, stored.Items[0].Position)
}

func TestDiscountAppliedBeforeTax(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.FixedFee{Amount: dec("1000")}, "10", "10")

	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)

	assert.True(t, invoice.DiscountAmount.Equal(dec("100")))
	assert.True(t, invoice.TaxAmount.Equal(dec("90")))
	assert.True(t, invoice.Total.Equal(dec("990")), invoice.Total.String())
}

func TestFixedFeeBilledOnce(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.FixedFee{Amount: dec("2500")}, "0", "0")
	req := invoicedomain.GenerateRequest{ProjectID: project.ID}

	first, err := f.svc.GenerateInvoice(ctxWithOrg(), req)
	require.NoError(t, err)

	_, err = f.svc.GenerateInvoice(ctxWithOrg(), req)
	assert.ErrorIs(t, err, invoicedomain.ErrNothingToBill)
	assert.ErrorIs(t, err, billingerror.ErrConfiguration)

	forced := req
	forced.Force = true
	second, err := f.svc.GenerateInvoice(ctxWithOrg(), forced)
	require.NoError(t, err)
	assert.Equal(t, "INV-000002", second.InvoiceNumber)

	_, err = f.svc.Cancel(ctxWithOrg(), first.ID, invoicedomain.CancelRequest{Reason: "duplicate"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctxWithOrg(), second.ID, invoicedomain.CancelRequest{Reason: "duplicate"})
	require.NoError(t, err)

	third, err := f.svc.GenerateInvoice(ctxWithOrg(), req)
	require.NoError(t, err)
	assert.True(t, third.Total.Equal(dec("2500")))
}

func TestMilestoneInvoices(t *testing.T) {
	f := newFixture(t, time.Second)
	m1, m2 := f.node.Generate(), f.node.Generate()
	half := dec("50")
	project := f.seedProject(t, billingmodeldomain.MilestoneBased{
		TotalValue: dec("1000"),
		Payments:   []billingmodeldomain.MilestonePayment{{MilestoneID: m1, Percentage: &half}},
	}, "0", "0")
	f.completeMilestone(t, project.ID, m1, "Design")

	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, invoice.Items, 1)
	assert.True(t, invoice.Total.Equal(dec("500")))

	f.completeMilestone(t, project.ID, m2, "Build")
	_, err = f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	assert.ErrorIs(t, err, billingerror.ErrNotFound)
}

func TestBillingTypeMismatch(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Hourly{HourlyRate: dec("100")}, "0", "0")
	f.logTime(t, project.ID, "1")

	_, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{
		ProjectID:   project.ID,
		BillingType: billingmodeldomain.TypeFixedFee,
	})
	assert.ErrorIs(t, err, billingerror.ErrConfiguration)
}

func TestGenerateRequiresOrg(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.svc.GenerateInvoice(context.Background(), invoicedomain.GenerateRequest{ProjectID: 1})
	assert.ErrorIs(t, err, orgcontext.ErrMissingOrg)
}

func TestPaymentsSettleInvoice(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Hourly{HourlyRate: dec("100")}, "0", "0")
	entry := f.logTime(t, project.ID, "10")

	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)
	_, err = f.svc.Send(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)

	result, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("600", paymentdomain.MethodBankTransfer))
	require.NoError(t, err)
	assert.True(t, result.Success)

	current, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, current.Status)

	result, err = f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("400", paymentdomain.MethodCard))
	require.NoError(t, err)
	assert.True(t, result.Success)

	current, err = f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, current.Status)
	assert.NotNil(t, current.PaidAt)

	var billed projectdomain.TimeEntry
	require.NoError(t, f.db.First(&billed, "id = ?", entry.ID).Error)
	assert.NotNil(t, billed.BilledAt)
	require.NotNil(t, billed.InvoiceID)
	assert.Equal(t, invoice.ID, *billed.InvoiceID)

	_, err = f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("1", paymentdomain.MethodCash))
	assert.ErrorIs(t, err, billingerror.ErrInvalidState)

	payments, err := f.svc.ListPayments(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestOverpaymentRejected(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "1000")

	_, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("1200", paymentdomain.MethodCard))
	assert.ErrorIs(t, err, billingerror.ErrOverpayment)
	assert.Zero(t, f.card.calls.Load())

	payments, err := f.svc.ListPayments(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	current, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, current.Status)
}

func TestDeclinedCardLeavesInvoiceOpen(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "1000")
	f.card.decline = true

	result, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("1000", paymentdomain.MethodCard))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "card declined", result.Error)

	current, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, current.Status)

	f.card.decline = false
	result, err = f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("1000", paymentdomain.MethodCard))
	require.NoError(t, err)
	assert.True(t, result.Success)

	payments, err := f.svc.ListPayments(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, paymentdomain.StatusFailed, payments[0].Status)
	assert.Equal(t, paymentdomain.StatusSucceeded, payments[1].Status)
}

func TestGatewayTimeoutIsFailure(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	invoice := f.sentInvoice(t, "100")
	f.card.delay = 200 * time.Millisecond

	result, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("100", paymentdomain.MethodCard))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "gateway timed out", result.Error)

	current, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, current.Status)
}

func TestPaymentValidation(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.FixedFee{Amount: dec("100")}, "0", "0")
	draft, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctxWithOrg(), draft.ID, pay("50", paymentdomain.MethodCash))
	assert.ErrorIs(t, err, billingerror.ErrInvalidState)

	_, err = f.svc.RecordPayment(ctxWithOrg(), draft.ID, pay("0", paymentdomain.MethodCash))
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPaymentInput)

	_, err = f.svc.RecordPayment(ctxWithOrg(), draft.ID, pay("10", "BITCOIN"))
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPaymentInput)

	_, err = f.svc.RecordPayment(ctxWithOrg(), draft.ID, pay("10", paymentdomain.MethodWallet))
	assert.ErrorIs(t, err, billingerror.ErrConfiguration)

	_, err = f.svc.Send(ctxWithOrg(), draft.ID)
	require.NoError(t, err)
	attempt := pay("10", paymentdomain.MethodCash)
	attempt.Currency = "EUR"
	_, err = f.svc.RecordPayment(ctxWithOrg(), draft.ID, attempt)
	assert.ErrorIs(t, err, invoicedomain.ErrCurrencyMismatch)

	_, err = f.svc.RecordPayment(ctxWithOrg(), f.node.Generate(), pay("10", paymentdomain.MethodCash))
	assert.ErrorIs(t, err, billingerror.ErrNotFound)
}

func TestTerminalInvoicesNeverChange(t *testing.T) {
	f := newFixture(t, time.Second)
	paid := f.sentInvoice(t, "100")
	_, err := f.svc.RecordPayment(ctxWithOrg(), paid.ID, pay("100", paymentdomain.MethodCash))
	require.NoError(t, err)

	cancelled := f.sentInvoice(t, "100")
	_, err = f.svc.Cancel(ctxWithOrg(), cancelled.ID, invoicedomain.CancelRequest{Reason: "client went away"})
	require.NoError(t, err)

	f.clock.Advance(60 * 24 * time.Hour)
	for _, id := range []snowflake.ID{paid.ID, cancelled.ID} {
		_, err = f.svc.Send(ctxWithOrg(), id)
		assert.ErrorIs(t, err, billingerror.ErrInvalidState)
		_, err = f.svc.Cancel(ctxWithOrg(), id, invoicedomain.CancelRequest{})
		assert.ErrorIs(t, err, billingerror.ErrInvalidState)
		_, err = f.svc.MarkOverdue(ctxWithOrg(), id)
		assert.ErrorIs(t, err, billingerror.ErrInvalidState)
	}

	current, err := f.svc.Get(ctxWithOrg(), cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, "client went away", current.CancelReason)
	assert.NotNil(t, current.CancelledAt)
}

func TestCancelRejectedWhilePaymentPending(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "100")
	pending := &paymentdomain.Payment{
		ID: f.node.Generate(), OrgID: testOrg, InvoiceID: invoice.ID, Amount: dec("40"), Currency: "USD",
		Method: paymentdomain.MethodCard, Gateway: "card", Status: paymentdomain.StatusPending,
		RefundedAmount: decimal.Zero, CreatedAt: start, UpdatedAt: start,
	}
	require.NoError(t, f.db.Create(pending).Error)

	_, err := f.svc.Cancel(ctxWithOrg(), invoice.ID, invoicedomain.CancelRequest{})
	assert.ErrorIs(t, err, billingerror.ErrInvalidState)

	_, err = f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("70", paymentdomain.MethodCash))
	assert.ErrorIs(t, err, billingerror.ErrOverpayment)
}

func TestMarkOverdue(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "300")
	require.NotNil(t, invoice.DueAt)
	assert.True(t, invoice.DueAt.Equal(start.AddDate(0, 0, 30)), invoice.DueAt.String())

	_, err := f.svc.MarkOverdue(ctxWithOrg(), invoice.ID)
	assert.ErrorIs(t, err, billingerror.ErrInvalidState)

	f.clock.Advance(31 * 24 * time.Hour)
	overdue, err := f.svc.MarkOverdue(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, overdue.Status)

	result, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("300", paymentdomain.MethodWireTransfer))
	require.NoError(t, err)
	assert.True(t, result.Success)

	current, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, current.Status)
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t, time.Second)
	late := f.sentInvoice(t, "100")
	f.clock.Advance(10 * 24 * time.Hour)
	fresh := f.sentInvoice(t, "200")

	count, err := f.svc.SweepOverdue(context.Background(), start.AddDate(0, 0, 35), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	current, err := f.svc.Get(ctxWithOrg(), late.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOverdue, current.Status)
	current, err = f.svc.Get(ctxWithOrg(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, current.Status)
}

func TestExpirePendingPayments(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "100")
	stale := &paymentdomain.Payment{
		ID: f.node.Generate(), OrgID: testOrg, InvoiceID: invoice.ID, Amount: dec("100"), Currency: "USD",
		Method: paymentdomain.MethodCard, Gateway: "card", Status: paymentdomain.StatusPending,
		RefundedAmount: decimal.Zero, CreatedAt: start, UpdatedAt: start,
	}
	require.NoError(t, f.db.Create(stale).Error)

	count, err := f.svc.ExpirePendingPayments(context.Background(), start.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var stored paymentdomain.Payment
	require.NoError(t, f.db.First(&stored, "id = ?", stale.ID).Error)
	assert.Equal(t, paymentdomain.StatusFailed, stored.Status)
	assert.Equal(t, expiredPaymentReason, stored.FailureReason)

	result, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("100", paymentdomain.MethodCard))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRecurringPeriodsNotRebilled(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Retainer{Amount: dec("2000")}, "0", "0")
	f.clock.Set(time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))

	first, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.Total.Equal(dec("4000")))

	_, err = f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	assert.ErrorIs(t, err, invoicedomain.ErrNothingToBill)

	f.clock.Set(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	next, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	require.NotNil(t, next.Items[0].PeriodStart)
	assert.Equal(t, 3, int(next.Items[0].PeriodStart.Month()))
}

func TestListInvoicesPaginates(t *testing.T) {
	f := newFixture(t, time.Second)
	for i := 0; i < 3; i++ {
		f.sentInvoice(t, "10")
	}

	page, err := f.svc.List(ctxWithOrg(), invoicedomain.ListInvoiceRequest{Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	assert.Len(t, page.Invoices, 2)
	require.NotEmpty(t, page.NextPageToken)

	rest, err := f.svc.List(ctxWithOrg(), invoicedomain.ListInvoiceRequest{Pagination: paginationOf(page.NextPageToken, 2)})
	require.NoError(t, err)
	assert.Len(t, rest.Invoices, 1)
	assert.Empty(t, rest.NextPageToken)

	_, err = f.svc.List(ctxWithOrg(), invoicedomain.ListInvoiceRequest{Pagination: paginationOf("%%%", 2)})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPageToken)
}

func TestRenderInvoice(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "1250")
	_, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("250", paymentdomain.MethodCheck))
	require.NoError(t, err)

	html, err := f.svc.RenderInvoice(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Contains(t, html, "INV-000001")
	assert.Contains(t, html, "Globex")
	assert.Contains(t, html, "Acme Studio")
	assert.Contains(t, html, "USD 1000.00")
}

func TestSendEmailsClient(t *testing.T) {
	f := newFixture(t, time.Second)
	mailer := &recordingMailer{}
	f.svc.mailer = mailer

	invoice := f.sentInvoice(t, "800")
	assert.Equal(t, invoicedomain.InvoiceStatusSent, invoice.Status)
	assert.Equal(t, []string{"ap@globex.test"}, mailer.to)
	assert.Equal(t, "Invoice INV-000001 from Acme Studio", mailer.subject)
	assert.Contains(t, mailer.body, "USD 800.00")
}

func TestSendSurvivesEmailFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.svc.mailer = &recordingMailer{err: errors.New("smtp down")}

	invoice := f.sentInvoice(t, "800")
	assert.Equal(t, invoicedomain.InvoiceStatusSent, invoice.Status)
}

func itemTypes(items []invoicedomain.InvoiceItem) []invoicedomain.LineItemType {
	types := make([]invoicedomain.LineItemType, 0, len(items))
	for _, item := range items {
		types = append(types, item.ReferenceType)
	}
	return types
}

func TestMixedComponentsBilledInOrder(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Mixed{Components: []billingmodeldomain.Model{
		billingmodeldomain.FixedFee{Amount: dec("500")},
		billingmodeldomain.Hourly{HourlyRate: dec("100")},
		billingmodeldomain.Retainer{Amount: dec("1000")},
	}}, "0", "0")
	f.logTime(t, project.ID, "2")
	f.addExpense(t, project.ID, "Stock photos", "75")
	f.clock.Set(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{
		ProjectID:       project.ID,
		IncludeExpenses: true,
		CustomLineItems: []invoicedomain.CustomLineItem{{Description: "Rush delivery", Quantity: dec("2"), Rate: dec("50")}},
	})
	require.NoError(t, err)

	assert.Equal(t, []invoicedomain.LineItemType{
		invoicedomain.LineItemFlatFee,
		invoicedomain.LineItemTimeEntry,
		invoicedomain.LineItemSubscriptionPeriod,
		invoicedomain.LineItemExpense,
		invoicedomain.LineItemCustom,
	}, itemTypes(invoice.Items))
	for i, item := range invoice.Items {
		assert.Equal(t, i+1, item.Position)
	}
	assert.True(t, invoice.Subtotal.Equal(dec("1875")), invoice.Subtotal.String())
	assert.True(t, invoice.Total.Equal(dec("1875")), invoice.Total.String())
}

func TestExpensesBilledOnlyWhenRequested(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Hourly{HourlyRate: dec("100")}, "0", "0")
	f.logTime(t, project.ID, "1")
	expense := f.addExpense(t, project.ID, "", "42.50")

	first, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, []invoicedomain.LineItemType{invoicedomain.LineItemTimeEntry}, itemTypes(first.Items))

	second, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID, IncludeExpenses: true})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, invoicedomain.LineItemExpense, second.Items[0].ReferenceType)
	assert.Equal(t, "Expense", second.Items[0].Description)
	require.NotNil(t, second.Items[0].SourceID)
	assert.Equal(t, expense.ID, *second.Items[0].SourceID)
	assert.True(t, second.Total.Equal(dec("42.50")), second.Total.String())

	_, err = f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID, IncludeExpenses: true})
	assert.ErrorIs(t, err, invoicedomain.ErrNothingToBill)
}

func TestCustomItemsFollowBilledWork(t *testing.T) {
	f := newFixture(t, time.Second)
	project := f.seedProject(t, billingmodeldomain.Hourly{HourlyRate: dec("80")}, "0", "0")
	f.logTime(t, project.ID, "2")

	invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{
		ProjectID: project.ID,
		CustomLineItems: []invoicedomain.CustomLineItem{
			{Description: "Hosting", Rate: dec("30")},
			{Description: "Domain renewal", Quantity: dec("2"), Rate: dec("12.50")},
		},
	})
	require.NoError(t, err)

	require.Len(t, invoice.Items, 3)
	assert.Equal(t, invoicedomain.LineItemTimeEntry, invoice.Items[0].ReferenceType)
	assert.Equal(t, "Hosting", invoice.Items[1].Description)
	assert.True(t, invoice.Items[1].Quantity.Equal(dec("1")))
	assert.Equal(t, "Domain renewal", invoice.Items[2].Description)
	assert.True(t, invoice.Items[2].Amount.Equal(dec("25")))
	assert.True(t, invoice.Total.Equal(dec("215")), invoice.Total.String())

	f.logTime(t, project.ID, "1")
	_, err = f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{
		ProjectID:       project.ID,
		CustomLineItems: []invoicedomain.CustomLineItem{{Description: "  ", Rate: dec("10")}},
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLineItem)
}

func TestRecurringModelsApplyDiscountAndTax(t *testing.T) {
	cases := []struct {
		name     string
		model    billingmodeldomain.Model
		tax      string
		discount string
		total    string
	}{
		{name: "retainer", model: billingmodeldomain.Retainer{Amount: dec("2000")}, tax: "10", discount: "5", total: "2090"},
		{name: "subscription", model: billingmodeldomain.Subscription{Amount: dec("300")}, tax: "20", discount: "0", total: "360"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, time.Second)
			project := f.seedProject(t, tc.model, tc.tax, tc.discount)
			f.clock.Set(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))

			invoice, err := f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: project.ID})
			require.NoError(t, err)

			require.Len(t, invoice.Items, 1)
			assert.Equal(t, string(tc.model.Type()), invoice.Items[0].Component)
			assert.True(t, invoice.Total.Equal(dec(tc.total)), invoice.Total.String())
			discounted := invoice.Subtotal.Sub(invoice.DiscountAmount)
			assert.True(t, invoice.TaxAmount.Equal(discounted.Mul(dec(tc.tax)).Div(dec("100")).Round(2)))
		})
	}
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "1000")
	f.card.delay = 20 * time.Millisecond

	const attempts = 4
	results := make([]*paymentdomain.Result, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("600", paymentdomain.MethodCard))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range errs {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], billingerror.ErrOverpayment)
			continue
		}
		require.True(t, results[i].Success)
		succeeded++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int32(1), f.card.calls.Load())

	payments, err := f.svc.ListPayments(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.True(t, sumPayments(payments, paymentdomain.StatusSucceeded).Equal(dec("600")))
}

func TestPaymentReplayedByIdempotencyKey(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "1000")
	attempt := pay("400", paymentdomain.MethodCard)
	attempt.IdempotencyKey = "client-retry-1"

	first, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, attempt)
	require.NoError(t, err)
	require.True(t, first.Success)
	second, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, attempt)
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, second.Amount.Equal(dec("400")))
	assert.Equal(t, int32(1), f.card.calls.Load())

	payments, err := f.svc.ListPayments(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, sumPayments(payments, paymentdomain.StatusSucceeded).Equal(dec("400")))

	other := f.sentInvoice(t, "1000")
	_, err = f.svc.RecordPayment(ctxWithOrg(), other.ID, attempt)
	assert.ErrorIs(t, err, billingerror.ErrInvalidState)
}

func TestPaymentKeyInFlightIsRejected(t *testing.T) {
	f := newFixture(t, time.Second)
	invoice := f.sentInvoice(t, "100")
	key := "client-retry-2"
	pending := &paymentdomain.Payment{
		ID: f.node.Generate(), OrgID: testOrg, InvoiceID: invoice.ID, Amount: dec("40"), Currency: "USD",
		Method: paymentdomain.MethodCard, Gateway: "card", Status: paymentdomain.StatusPending,
		IdempotencyKey: &key, RefundedAmount: decimal.Zero, CreatedAt: start, UpdatedAt: start,
	}
	require.NoError(t, f.db.Create(pending).Error)

	attempt := pay("40", paymentdomain.MethodCard)
	attempt.IdempotencyKey = key
	_, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, attempt)
	assert.ErrorIs(t, err, billingerror.ErrConcurrentModification)
	assert.Zero(t, f.card.calls.Load())
}

func TestDraftRejectsWorkBilledSinceBuild(t *testing.T) {
	f := newFixture(t, time.Second)
	fee := f.seedProject(t, billingmodeldomain.FixedFee{Amount: dec("900")}, "0", "0")
	req := invoicedomain.GenerateRequest{ProjectID: fee.ID}

	stale, err := f.svc.builder.Build(ctxWithOrg(), req)
	require.NoError(t, err)
	_, err = f.svc.GenerateInvoice(ctxWithOrg(), req)
	require.NoError(t, err)

	_, err = f.svc.CreateDraft(ctxWithOrg(), stale)
	assert.ErrorIs(t, err, billingerror.ErrConcurrentModification)

	forced := req
	forced.Force = true
	draft, err := f.svc.builder.Build(ctxWithOrg(), forced)
	require.NoError(t, err)
	_, err = f.svc.CreateDraft(ctxWithOrg(), draft)
	require.NoError(t, err)

	retainer := f.seedProject(t, billingmodeldomain.Retainer{Amount: dec("1500")}, "0", "0")
	f.clock.Set(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	period, err := f.svc.builder.Build(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: retainer.ID})
	require.NoError(t, err)
	_, err = f.svc.GenerateInvoice(ctxWithOrg(), invoicedomain.GenerateRequest{ProjectID: retainer.ID})
	require.NoError(t, err)
	_, err = f.svc.CreateDraft(ctxWithOrg(), period)
	assert.ErrorIs(t, err, billingerror.ErrConcurrentModification)

	page, err := f.svc.List(ctxWithOrg(), invoicedomain.ListInvoiceRequest{Pagination: paginationOf("", 10)})
	require.NoError(t, err)
	assert.Len(t, page.Invoices, 3)
}

// rejectingAuditRepo fails every write after it reached the transaction.
type rejectingAuditRepo struct {
	auditdomain.Repository
}

func (r rejectingAuditRepo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	if err := r.Repository.Insert(ctx, db, entry); err != nil {
		return err
	}
	return errors.New("audit store unavailable")
}

func TestPaymentSurvivesAuditFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.svc.auditSvc = auditservice.NewService(auditservice.Params{
		DB: f.db, Log: zap.NewNop(), GenID: f.node, Clock: f.clock, Repo: rejectingAuditRepo{Repository: auditrepo.Provide()},
	})
	invoice := f.sentInvoice(t, "250")

	result, err := f.svc.RecordPayment(ctxWithOrg(), invoice.ID, pay("250", paymentdomain.MethodCard))
	require.NoError(t, err)
	assert.True(t, result.Success)

	current, err := f.svc.Get(ctxWithOrg(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, current.Status)

	var logged int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Count(&logged).Error)
	assert.Zero(t, logged)
}
