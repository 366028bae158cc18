package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/billingerror"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	paymentservice "github.com/smallbiznis/tally/internal/payment/service"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const expiredPaymentReason = "expired before the gateway confirmed"

// RecordPayment charges an invoice through the gateway registered for the
// attempt's method. The amount is reserved by a PENDING payment before the
// gateway is called, so no lock is held across the network call. A declined
// or timed out charge comes back as a Result with Success false and leaves
// the invoice untouched.
func (s *Service) RecordPayment(ctx context.Context, id snowflake.ID, attempt paymentdomain.Attempt) (*paymentdomain.Result, error) {
	const op = "invoice.record_payment"

	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	if !attempt.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", invoicedomain.ErrInvalidPaymentInput)
	}
	if !attempt.Amount.Equal(attempt.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than two decimals", invoicedomain.ErrInvalidPaymentInput)
	}
	method, ok := paymentdomain.ParseMethod(string(attempt.Method))
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment method %q", invoicedomain.ErrInvalidPaymentInput, attempt.Method)
	}
	attempt.Method = method

	gateway, err := s.registry.ForMethod(method)
	if err != nil {
		return nil, billingerror.Configuration(op, fmt.Sprintf("no gateway handles %s", method)).
			WithInvoice(id).
			Wrap(err)
	}

	attempt.IdempotencyKey = strings.TrimSpace(attempt.IdempotencyKey)
	payment, replayed, err := s.reserve(ctx, orgID, id, gateway.Name(), attempt)
	if err != nil {
		return nil, err
	}
	if replayed {
		s.log.Info("payment replayed",
			zap.String("org_id", orgID.String()),
			zap.String("invoice_id", id.String()),
			zap.String("payment_id", payment.ID.String()),
		)
		return storedResult(payment), nil
	}

	attempt.PaymentID = payment.ID
	attempt.InvoiceID = id
	attempt.Currency = payment.Currency
	if attempt.IdempotencyKey == "" {
		attempt.IdempotencyKey = "payment-" + payment.ID.String()
	}
	fallback := paymentdomain.Failed(payment.ID.String(), payment.Amount, payment.Currency, "")
	result := paymentservice.Invoke(ctx, gateway, paymentservice.OperationCharge, s.cfg.GatewayTimeout, s.obsMetrics, fallback, func(ctx context.Context) paymentdomain.Result {
		return gateway.ProcessPayment(ctx, attempt)
	})
	if result.PaymentID == "" {
		result.PaymentID = payment.ID.String()
	}

	// the outcome is stored even when the caller has gone away
	paid, err := s.settle(context.WithoutCancel(ctx), orgID, id, payment, result)
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPayment(ctx, gateway.Name(), outcome(result))
	if paid {
		s.obsMetrics.RecordInvoiceTransition(ctx, orgID.String(), string(invoicedomain.InvoiceStatusPaid))
	}
	s.log.Info("payment recorded",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", id.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway", gateway.Name()),
		zap.Bool("success", result.Success),
		zap.Bool("invoice_paid", paid),
	)
	return &result, nil
}

// reserve locks the invoice, checks the remaining balance against every
// succeeded and in-flight payment and inserts a PENDING payment. When the
// attempt carries an idempotency key that was already used, the stored
// payment is returned with replayed set and nothing is inserted.
func (s *Service) reserve(ctx context.Context, orgID, id snowflake.ID, gatewayName string, attempt paymentdomain.Attempt) (payment *paymentdomain.Payment, replayed bool, err error) {
	const op = "invoice.record_payment"

	err = s.withRetry(ctx, op, func() error {
		replayed = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.repo.FindForUpdate(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			if invoice == nil {
				return billingerror.NotFound(op, "invoice not found").WithInvoice(id)
			}
			if attempt.IdempotencyKey != "" {
				existing, err := s.payments.FindByIdempotencyKey(ctx, tx, orgID, attempt.IdempotencyKey)
				if err != nil {
					return err
				}
				if existing != nil {
					if existing.InvoiceID != id {
						return billingerror.InvalidState(op, "idempotency key was already used for another invoice").
							WithInvoice(id)
					}
					if existing.Status == paymentdomain.StatusPending {
						return billingerror.ConcurrentModification(op, "payment with this idempotency key is still in flight").
							WithInvoice(id)
					}
					payment, replayed = existing, true
					return nil
				}
			}
			if !invoice.Status.AcceptsPayment() {
				return billingerror.InvalidState(op,
					fmt.Sprintf("invoice is %s and does not accept payments", invoice.Status)).WithInvoice(id)
			}
			currency := strings.ToUpper(strings.TrimSpace(attempt.Currency))
			if currency == "" {
				currency = invoice.Currency
			}
			if currency != invoice.Currency {
				return billingerror.Configuration(op,
					fmt.Sprintf("payment currency %s does not match invoice currency %s", currency, invoice.Currency)).
					WithInvoice(id).
					Wrap(invoicedomain.ErrCurrencyMismatch)
			}

			payments, err := s.payments.ListByInvoice(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			reserved := sumPayments(payments, paymentdomain.StatusSucceeded, paymentdomain.StatusPending)
			remaining := invoice.Total.Sub(reserved)
			if attempt.Amount.GreaterThan(remaining) {
				return billingerror.Overpayment(op, "amount exceeds remaining balance "+remaining.StringFixed(2)).
					WithInvoice(id).
					WithAmount(attempt.Amount)
			}

			now := s.clock.Now()
			payment = &paymentdomain.Payment{
				ID:        s.genID.Generate(),
				OrgID:     orgID,
				InvoiceID: id,
				Amount:    attempt.Amount,
				Currency:  currency,
				Method:    attempt.Method,
				Gateway:   gatewayName,
				Status:    paymentdomain.StatusPending,
				Reference: strings.TrimSpace(attempt.Reference),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if attempt.IdempotencyKey != "" {
				key := attempt.IdempotencyKey
				payment.IdempotencyKey = &key
			}
			if len(attempt.Metadata) > 0 {
				payment.Metadata = make(map[string]any, len(attempt.Metadata))
				for key, value := range attempt.Metadata {
					payment.Metadata[key] = value
				}
			}
			if err := s.payments.Insert(ctx, tx, payment); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return billingerror.ConcurrentModification(op, "payment with this idempotency key is still in flight").
						WithInvoice(id)
				}
				return err
			}
			ok, err := s.repo.UpdateVersioned(ctx, tx, invoice, map[string]any{"updated_at": now})
			if err != nil {
				return err
			}
			if !ok {
				return errVersionConflict
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return payment, replayed, nil
}

// storedResult rebuilds the gateway outcome recorded on a finished payment.
func storedResult(payment *paymentdomain.Payment) *paymentdomain.Result {
	return &paymentdomain.Result{
		Success:       payment.Status == paymentdomain.StatusSucceeded,
		PaymentID:     payment.ID.String(),
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Error:         payment.FailureReason,
	}
}

// settle stores the gateway outcome and marks the invoice PAID once succeeded
// payments cover its total. It reports whether the invoice became PAID.
func (s *Service) settle(ctx context.Context, orgID, id snowflake.ID, payment *paymentdomain.Payment, result paymentdomain.Result) (bool, error) {
	const op = "invoice.record_payment"

	var paid bool
	err := s.withRetry(ctx, op, func() error {
		paid = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.repo.FindForUpdate(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			if invoice == nil {
				return billingerror.NotFound(op, "invoice not found").WithInvoice(id)
			}

			now := s.clock.Now()
			completed := *payment
			completed.UpdatedAt = now
			completed.CompletedAt = &now
			completed.TransactionID = result.TransactionID
			if completed.Reference == "" {
				completed.Reference = result.TransactionID
			}
			if result.Success {
				completed.Status = paymentdomain.StatusSucceeded
			} else {
				completed.Status = paymentdomain.StatusFailed
				completed.FailureReason = result.Error
			}
			ok, err := s.payments.Complete(ctx, tx, &completed)
			if err != nil {
				return err
			}
			if !ok {
				return billingerror.ConcurrentModification(op, "payment was finalized while the gateway call was in flight").
					WithInvoice(id)
			}

			action := "invoice.payment_failed"
			if result.Success {
				action = "invoice.payment_succeeded"
			}
			s.emitAudit(ctx, tx, action, invoice, map[string]any{
				"payment_id":     completed.ID.String(),
				"gateway":        completed.Gateway,
				"method":         string(completed.Method),
				"amount":         completed.Amount.StringFixed(2),
				"transaction_id": completed.TransactionID,
				"error":          completed.FailureReason,
			})
			if !result.Success {
				return nil
			}

			payments, err := s.payments.ListByInvoice(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			succeeded := sumPayments(payments, paymentdomain.StatusSucceeded)
			if succeeded.LessThan(invoice.Total) || !invoice.Status.AcceptsPayment() {
				return nil
			}

			ok, err = s.repo.UpdateVersioned(ctx, tx, invoice, map[string]any{
				"status":     invoicedomain.InvoiceStatusPaid,
				"paid_at":    now,
				"updated_at": now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errVersionConflict
			}
			items, err := s.repo.Items(ctx, tx, id)
			if err != nil {
				return err
			}
			if refs := sourceRefs(items); !refs.Empty() {
				if err := s.projects.MarkBilled(ctx, tx, orgID, id, refs, now); err != nil {
					return err
				}
			}
			invoice.Status = invoicedomain.InvoiceStatusPaid
			invoice.PaidAt = &now
			s.emitAudit(ctx, tx, "invoice.paid", invoice, map[string]any{
				"paid_total": succeeded.StringFixed(2),
			})
			paid = true
			return nil
		})
	})
	return paid, err
}

// SweepOverdue moves SENT invoices past their due date to OVERDUE.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.repo.ListOverdueCandidates(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, invoice := range candidates {
		orgCtx := orgcontext.WithOrgID(ctx, invoice.OrgID)
		if _, err := s.markOverdueAt(orgCtx, invoice.ID, now); err != nil {
			if errors.Is(err, billingerror.ErrInvalidState) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

// ExpirePendingPayments fails payments whose gateway outcome never arrived,
// releasing the amount they reserved.
func (s *Service) ExpirePendingPayments(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := s.payments.ListStalePending(ctx, s.db, olderThan, limit)
	if err != nil {
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for i := range stale {
		payment := stale[i]
		var expired bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			payment.Status = paymentdomain.StatusFailed
			payment.FailureReason = expiredPaymentReason
			payment.CompletedAt = &now
			payment.UpdatedAt = now
			ok, err := s.payments.Complete(ctx, tx, &payment)
			if err != nil || !ok {
				return err
			}
			expired = true
			if s.auditSvc != nil {
				_ = s.auditSvc.AuditLog(ctx, tx, payment.OrgID, "invoice.payment_expired", "invoice", payment.InvoiceID.String(), map[string]any{
					"payment_id": payment.ID.String(),
					"gateway":    payment.Gateway,
					"amount":     payment.Amount.StringFixed(2),
				})
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			count++
		}
	}
	if count > 0 {
		s.log.Warn("expired pending payments", zap.Int("count", count))
	}
	return count, errors.Join(errs...)
}

func sourceRefs(items []invoicedomain.InvoiceItem) projectdomain.SourceRefs {
	var refs projectdomain.SourceRefs
	for _, item := range items {
		if item.SourceID == nil {
			continue
		}
		switch item.ReferenceType {
		case invoicedomain.LineItemTimeEntry:
			refs.TimeEntryIDs = append(refs.TimeEntryIDs, *item.SourceID)
		case invoicedomain.LineItemExpense:
			refs.ExpenseIDs = append(refs.ExpenseIDs, *item.SourceID)
		case invoicedomain.LineItemMilestone:
			refs.MilestoneIDs = append(refs.MilestoneIDs, *item.SourceID)
		}
	}
	return refs
}

func outcome(result paymentdomain.Result) string {
	if result.Success {
		return "succeeded"
	}
	return "failed"
}
