// Package manual records offline payments (bank transfers, checks, wires, cash)
// that were settled outside any processor.
package manual

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/tally/internal/payment/domain"
)

const Name = "manual"

type Adapter struct {
	now func() time.Time
}

func New() *Adapter {
	return &Adapter{now: time.Now}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Methods() []domain.Method {
	return []domain.Method{
		domain.MethodBankTransfer,
		domain.MethodCheck,
		domain.MethodWireTransfer,
		domain.MethodCash,
	}
}

// ProcessPayment always succeeds; the operator has already received the funds.
func (a *Adapter) ProcessPayment(ctx context.Context, attempt domain.Attempt) domain.Result {
	reference := strings.TrimSpace(attempt.Reference)
	if reference == "" {
		reference = a.reference(string(attempt.Method))
	}
	return domain.Result{
		Success:       true,
		PaymentID:     attempt.PaymentID.String(),
		TransactionID: reference,
		Amount:        attempt.Amount,
		Currency:      strings.ToUpper(attempt.Currency),
	}
}

func (a *Adapter) Refund(ctx context.Context, req domain.RefundRequest) domain.Result {
	return domain.Result{
		Success:       true,
		PaymentID:     req.PaymentID.String(),
		TransactionID: a.reference("REFUND"),
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
	}
}

func (a *Adapter) reference(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(a.now()), rand.Reader)
	return prefix + "-" + id.String()
}
