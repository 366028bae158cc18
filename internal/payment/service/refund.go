package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	"github.com/smallbiznis/tally/internal/billingerror"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/orgcontext"
	"github.com/smallbiznis/tally/internal/payment/adapters"
	"github.com/smallbiznis/tally/internal/payment/domain"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Registry   *adapters.Registry
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	repo       domain.Repository
	registry   *adapters.Registry
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
}

func NewService(p Params) domain.RefundService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("refund.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		repo:       p.Repo,
		registry:   p.Registry,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(),
	}
}

// Refund returns money from a succeeded payment. Repeating a request with the
// same idempotency key, or the same amount and reason, returns the stored
// outcome without calling the gateway again.
func (s *Service) Refund(ctx context.Context, paymentID snowflake.ID, input domain.RefundInput) (*domain.Result, error) {
	const op = "refund"

	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if input.Amount != nil && !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	input.Reason = strings.TrimSpace(input.Reason)
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)

	var (
		payment *domain.Payment
		refund  *domain.Refund
		replay  *domain.Refund
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err = s.repo.FindForUpdate(ctx, tx, orgID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return billingerror.NotFound(op, "payment not found")
		}
		if payment.Status != domain.StatusSucceeded {
			return billingerror.InvalidState(op, "only succeeded payments can be refunded").
				WithInvoice(payment.InvoiceID)
		}

		if input.IdempotencyKey != "" {
			existing, err := s.repo.FindRefundByKey(ctx, tx, orgID, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				replay = existing
				return nil
			}
		}

		pending, err := s.repo.PendingRefundTotal(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		refundable := payment.Refundable().Sub(pending)

		fingerprint := Fingerprint(payment.ID, input.Amount, input.Reason)
		existing, err := s.repo.FindRefundByFingerprint(ctx, tx, fingerprint)
		if err != nil {
			return err
		}
		if existing != nil {
			replay = existing
			return nil
		}

		amount := refundable
		if input.Amount != nil {
			amount = *input.Amount
		}
		amount = amount.Round(2)

		if !amount.IsPositive() || amount.GreaterThan(refundable) {
			return billingerror.Overpayment(op, "refund exceeds refundable amount "+refundable.StringFixed(2)).
				WithInvoice(payment.InvoiceID).
				WithAmount(amount)
		}

		key := input.IdempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		now := s.clock.Now()
		refund = &domain.Refund{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			PaymentID:      payment.ID,
			InvoiceID:      payment.InvoiceID,
			Amount:         amount,
			Currency:       payment.Currency,
			Reason:         input.Reason,
			IdempotencyKey: key,
			Fingerprint:    fingerprint,
			Status:         domain.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return billingerror.ConcurrentModification(op, "identical refund is already in progress").
					WithInvoice(payment.InvoiceID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return s.replay(replay)
	}

	gateway, err := s.registry.ByName(payment.Gateway)
	var result domain.Result
	if err != nil {
		result = domain.Failed(paymentID.String(), refund.Amount, refund.Currency, "gateway "+payment.Gateway+" is not configured")
	} else {
		req := domain.RefundRequest{
			RefundID:       refund.ID,
			PaymentID:      payment.ID,
			TransactionID:  payment.TransactionID,
			Amount:         refund.Amount,
			Currency:       refund.Currency,
			Reason:         refund.Reason,
			IdempotencyKey: refund.IdempotencyKey,
		}
		fallback := domain.Failed(paymentID.String(), refund.Amount, refund.Currency, "")
		result = Invoke(ctx, gateway, OperationRefund, s.cfg.GatewayTimeout, s.obsMetrics, fallback, func(ctx context.Context) domain.Result {
			return gateway.Refund(ctx, req)
		})
	}

	if err := s.finish(ctx, orgID, payment, refund, result); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordRefund(ctx, payment.Gateway, outcome(result))
	return &result, nil
}

func (s *Service) finish(ctx context.Context, orgID snowflake.ID, payment *domain.Payment, refund *domain.Refund, result domain.Result) error {
	now := s.clock.Now()
	refund.UpdatedAt = now
	refund.TransactionID = result.TransactionID
	if result.Success {
		refund.Status = domain.StatusSucceeded
	} else {
		refund.Status = domain.StatusFailed
		refund.FailureReason = result.Error
		// frees the fingerprint so the same request can be retried
		refund.Fingerprint = refund.Fingerprint + ":failed:" + refund.ID.String()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateRefund(ctx, tx, refund); err != nil {
			return err
		}
		if result.Success {
			if err := s.repo.AddRefunded(ctx, tx, payment.ID, refund.Amount, now); err != nil {
				return err
			}
		}
		_ = s.auditSvc.AuditLog(ctx, tx, orgID, "payment.refund."+strings.ToLower(string(refund.Status)), "payment", payment.ID.String(), map[string]any{
			"refund_id":  refund.ID.String(),
			"invoice_id": payment.InvoiceID.String(),
			"amount":     refund.Amount.StringFixed(2),
			"currency":   refund.Currency,
			"reason":     refund.Reason,
			"error":      result.Error,
		})
		return nil
	})
}

func (s *Service) replay(refund *domain.Refund) (*domain.Result, error) {
	if refund.Status == domain.StatusPending {
		return nil, billingerror.ConcurrentModification("refund", "identical refund is already in progress").
			WithInvoice(refund.InvoiceID)
	}
	return &domain.Result{
		Success:       refund.Status == domain.StatusSucceeded,
		PaymentID:     refund.PaymentID.String(),
		TransactionID: refund.TransactionID,
		Amount:        refund.Amount,
		Currency:      refund.Currency,
		Error:         refund.FailureReason,
	}, nil
}

func (s *Service) ListRefunds(ctx context.Context, paymentID snowflake.ID) ([]domain.Refund, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, billingerror.NotFound("list_refunds", "payment not found")
	}
	return s.repo.ListRefunds(ctx, s.db, orgID, paymentID)
}

// Fingerprint identifies a refund request by payment, requested amount and
// reason. A request without an amount asks for the full remainder and is
// fingerprinted as such, so repeating it replays instead of failing once
// nothing is left to refund.
func Fingerprint(paymentID snowflake.ID, requested *decimal.Decimal, reason string) string {
	amount := "full"
	if requested != nil {
		amount = requested.Round(2).StringFixed(2)
	}
	sum := sha256.Sum256([]byte(paymentID.String() + "|" + amount + "|" + reason))
	return hex.EncodeToString(sum[:])
}

func outcome(result domain.Result) string {
	if result.Success {
		return "succeeded"
	}
	return "failed"
}
