package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/billingerror"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/invoice/format"
	"github.com/smallbiznis/tally/internal/invoice/render"
	"github.com/smallbiznis/tally/internal/notify/email"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTxAttempts = 3

var errVersionConflict = errors.New("invoice_version_conflict")

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	BillingCfg *config.BillingConfigHolder
	Repo       invoicedomain.Repository
	Builder    invoicedomain.Builder
	Payments   paymentdomain.Repository
	Projects   projectdomain.Repository
	Registry   *adapters.Registry
	Renderer   render.Renderer
	AuditSvc   auditdomain.Service
	Mailer     email.Provider      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	billingCfg *config.BillingConfigHolder
	repo       invoicedomain.Repository
	builder    invoicedomain.Builder
	payments   paymentdomain.Repository
	projects   projectdomain.Repository
	registry   *adapters.Registry
	renderer   render.Renderer
	auditSvc   auditdomain.Service
	mailer     email.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		billingCfg: p.BillingCfg,
		repo:       p.Repo,
		builder:    p.Builder,
		payments:   p.Payments,
		projects:   p.Projects,
		registry:   p.Registry,
		renderer:   p.Renderer,
		auditSvc:   p.AuditSvc,
		mailer:     p.Mailer,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GenerateInvoice(ctx context.Context, req invoicedomain.GenerateRequest) (*invoicedomain.Invoice, error) {
	draft, err := s.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.CreateDraft(ctx, draft)
}

// CreateDraft persists a draft as a DRAFT invoice with the next invoice number.
// Totals are always recomputed from the line items.
func (s *Service) CreateDraft(ctx context.Context, draft *invoicedomain.Draft) (*invoicedomain.Invoice, error) {
	const op = "invoice.create_draft"

	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	if draft == nil || len(draft.LineItems) == 0 {
		return nil, billingerror.Configuration(op, "no billable line items").Wrap(invoicedomain.ErrNothingToBill)
	}
	for _, item := range draft.LineItems {
		if err := item.Check(); err != nil {
			return nil, billingerror.Configuration(op, err.Error()).WithProject(draft.ProjectID).Wrap(invoicedomain.ErrInvalidLineItem)
		}
	}

	billingCfg := s.billingCfg.Get()
	currency := strings.ToUpper(strings.TrimSpace(draft.Currency))
	if currency == "" {
		currency = billingCfg.DefaultCurrency
	}
	terms := draft.PaymentTerms
	if terms < 0 {
		terms = billingCfg.DefaultPaymentTerms
	}
	totals := invoicedomain.ComputeTotals(draft.LineItems, draft.TaxRate, draft.DiscountRate)

	now := s.clock.Now()
	invoice := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		ProjectID:      draft.ProjectID,
		ClientID:       draft.ClientID,
		ContractID:     draft.ContractID,
		Status:         invoicedomain.InvoiceStatusDraft,
		Currency:       currency,
		Subtotal:       totals.Subtotal,
		DiscountRate:   draft.DiscountRate,
		DiscountAmount: totals.DiscountAmount,
		TaxRate:        draft.TaxRate,
		TaxAmount:      totals.TaxAmount,
		Total:          totals.Total,
		PaymentTerms:   terms,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	items := make([]invoicedomain.InvoiceItem, 0, len(draft.LineItems))
	for i, li := range draft.LineItems {
		items = append(items, invoicedomain.InvoiceItem{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			InvoiceID:     invoice.ID,
			Position:      i + 1,
			ReferenceType: li.Type,
			ReferenceID:   li.ReferenceID,
			SourceID:      li.SourceID,
			ContractID:    li.ContractID,
			Component:     li.Component,
			PeriodStart:   li.PeriodStart,
			PeriodEnd:     li.PeriodEnd,
			Description:   li.Description,
			Quantity:      li.Quantity,
			Rate:          li.Rate,
			Amount:        li.Amount,
			CreatedAt:     now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.repo.NextNumber(ctx, tx, orgID)
		if err != nil {
			return err
		}
		// the sequence row stays locked until commit, so drafts of one org
		// are serialized from here on
		if err := s.ensureUnbilled(ctx, tx, orgID, draft); err != nil {
			return err
		}
		invoice.InvoiceNumber, err = format.InvoiceNumber(format.DefaultInvoiceNumberTemplate, billingCfg.InvoiceNumberPrefix, now, number)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, invoice, items); err != nil {
			return err
		}
		s.emitAudit(ctx, tx, "invoice.created", invoice, map[string]any{
			"line_items": len(items),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	invoice.Items = items

	s.obsMetrics.RecordInvoiceTransition(ctx, orgID.String(), string(invoice.Status))
	s.log.Info("invoice drafted",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("total", invoice.Total.StringFixed(2)),
	)
	return invoice, nil
}

// ensureUnbilled rejects a draft whose fixed fee or billing period went onto
// another live invoice after the draft was built.
func (s *Service) ensureUnbilled(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, draft *invoicedomain.Draft) error {
	for _, item := range draft.LineItems {
		switch {
		case item.Type == invoicedomain.LineItemSubscriptionPeriod:
		case item.Type == invoicedomain.LineItemFlatFee && !draft.Force:
		default:
			continue
		}
		billed, err := s.repo.HasLiveReference(ctx, tx, orgID, item.Type, item.ReferenceID)
		if err != nil {
			return err
		}
		if billed {
			return billingerror.ConcurrentModification("invoice.create_draft",
				fmt.Sprintf("%q is already on another invoice", item.Description)).
				WithProject(draft.ProjectID)
		}
	}
	return nil
}

// Send issues a draft and emails it to the client when a mailer is configured.
// Delivery failures are logged and never undo the transition.
func (s *Service) Send(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.issue(ctx, id)
	if err != nil {
		return nil, err
	}
	s.deliver(ctx, invoice)
	return invoice, nil
}

func (s *Service) issue(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, "invoice.sent", func(invoice *invoicedomain.Invoice, now time.Time) (map[string]any, error) {
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return nil, billingerror.InvalidState("invoice.send",
				fmt.Sprintf("only DRAFT invoices can be sent, invoice is %s", invoice.Status))
		}
		due := now.AddDate(0, 0, invoice.PaymentTerms)
		return map[string]any{
			"status":    invoicedomain.InvoiceStatusSent,
			"issued_at": now,
			"due_at":    due,
		}, nil
	})
}

func (s *Service) MarkOverdue(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return s.markOverdueAt(ctx, id, s.clock.Now())
}

func (s *Service) markOverdueAt(ctx context.Context, id snowflake.ID, at time.Time) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, id, "invoice.overdue", func(invoice *invoicedomain.Invoice, _ time.Time) (map[string]any, error) {
		if invoice.Status != invoicedomain.InvoiceStatusSent {
			return nil, billingerror.InvalidState("invoice.mark_overdue",
				fmt.Sprintf("only SENT invoices can become overdue, invoice is %s", invoice.Status))
		}
		if invoice.DueAt == nil || !at.After(*invoice.DueAt) {
			return nil, billingerror.InvalidState("invoice.mark_overdue", "invoice is not past its due date")
		}
		return map[string]any{"status": invoicedomain.InvoiceStatusOverdue}, nil
	})
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, req invoicedomain.CancelRequest) (*invoicedomain.Invoice, error) {
	reason := strings.TrimSpace(req.Reason)
	return s.transitionTx(ctx, id, "invoice.cancelled", func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (map[string]any, error) {
		if invoice.Status.Terminal() {
			return nil, billingerror.InvalidState("invoice.cancel",
				fmt.Sprintf("invoice is already %s", invoice.Status))
		}
		payments, err := s.payments.ListByInvoice(ctx, tx, invoice.OrgID, invoice.ID)
		if err != nil {
			return nil, err
		}
		for _, payment := range payments {
			if payment.Status == paymentdomain.StatusPending {
				return nil, billingerror.InvalidState("invoice.cancel", "a payment is still being processed")
			}
		}
		return map[string]any{
			"status":        invoicedomain.InvoiceStatusCancelled,
			"cancelled_at":  now,
			"cancel_reason": reason,
		}, nil
	})
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, action string, mutate func(invoice *invoicedomain.Invoice, now time.Time) (map[string]any, error)) (*invoicedomain.Invoice, error) {
	return s.transitionTx(ctx, id, action, func(_ *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (map[string]any, error) {
		return mutate(invoice, now)
	})
}

// transitionTx applies a status change under the invoice row lock and the
// optimistic version check, then writes the audit entry in the same transaction.
func (s *Service) transitionTx(ctx context.Context, id snowflake.ID, action string, mutate func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (map[string]any, error)) (*invoicedomain.Invoice, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}

	var (
		updated  *invoicedomain.Invoice
		previous invoicedomain.InvoiceStatus
	)
	err = s.withRetry(ctx, action, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.repo.FindForUpdate(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			if invoice == nil {
				return billingerror.NotFound(action, "invoice not found").WithInvoice(id)
			}
			now := s.clock.Now()
			fields, err := mutate(tx, invoice, now)
			if err != nil {
				var be *billingerror.Error
				if errors.As(err, &be) && be.InvoiceID == 0 {
					be.WithInvoice(id)
				}
				return err
			}
			fields["updated_at"] = now
			ok, err := s.repo.UpdateVersioned(ctx, tx, invoice, fields)
			if err != nil {
				return err
			}
			if !ok {
				return errVersionConflict
			}
			previous = invoice.Status
			updated, err = s.repo.FindByID(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			s.emitAudit(ctx, tx, action, updated, map[string]any{
				"previous_status": string(previous),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordInvoiceTransition(ctx, orgID.String(), string(updated.Status))
	s.log.Info("invoice transitioned",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", id.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(updated.Status)),
	)
	return updated, nil
}

// withRetry reruns fn after serialization failures and version conflicts.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !db.IsSerializationFailure(err) && !errors.Is(err, errVersionConflict) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		s.log.Debug("retrying invoice transaction", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return billingerror.ConcurrentModification(op, "invoice was modified concurrently, try again").Wrap(err)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, billingerror.NotFound("invoice.get", "invoice not found").WithInvoice(id)
	}
	invoice.Items, err = s.repo.Items(ctx, s.db, invoice.ID)
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
	}
	var afterID snowflake.ID
	if cursor != nil {
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 250 {
		pageSize = 250
	}

	rows, err := s.repo.List(ctx, s.db, orgID, req, afterID, pageSize)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	rows, pageInfo := pagination.Trim(rows, pageSize, func(invoice invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: invoice.ID.String()}
	})
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: rows}, nil
}

func (s *Service) ListPayments(ctx context.Context, id snowflake.ID) ([]paymentdomain.Payment, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, s.db, invoice.OrgID, invoice.ID)
}

func (s *Service) emitAudit(ctx context.Context, tx *gorm.DB, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"project_id":     invoice.ProjectID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"status":         string(invoice.Status),
		"currency":       invoice.Currency,
		"total":          invoice.Total.StringFixed(2),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	_ = s.auditSvc.AuditLog(ctx, tx, invoice.OrgID, action, "invoice", invoice.ID.String(), metadata)
}

func sumPayments(payments []paymentdomain.Payment, statuses ...paymentdomain.Status) decimal.Decimal {
	total := decimal.Zero
	for _, payment := range payments {
		for _, status := range statuses {
			if payment.Status == status {
				total = total.Add(payment.Amount)
				break
			}
		}
	}
	return total
}
