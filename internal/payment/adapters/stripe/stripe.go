// Package stripe processes card payments through Stripe PaymentIntents.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/payment/domain"
	stripesdk "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
	"go.uber.org/zap"
)

const Name = "stripe"

type intentClient interface {
	New(params *stripesdk.PaymentIntentParams) (*stripesdk.PaymentIntent, error)
}

type refundClient interface {
	New(params *stripesdk.RefundParams) (*stripesdk.Refund, error)
}

type Adapter struct {
	intents intentClient
	refunds refundClient
	log     *zap.Logger
}

// New builds an adapter backed by the live Stripe API.
func New(secretKey string, log *zap.Logger) *Adapter {
	backend := stripesdk.GetBackend(stripesdk.APIBackend)
	return newAdapter(
		&paymentintent.Client{B: backend, Key: secretKey},
		&refund.Client{B: backend, Key: secretKey},
		log,
	)
}

func newAdapter(intents intentClient, refunds refundClient, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{intents: intents, refunds: refunds, log: log.Named("payment.stripe")}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Methods() []domain.Method {
	return []domain.Method{domain.MethodCard}
}

func (a *Adapter) ProcessPayment(ctx context.Context, attempt domain.Attempt) domain.Result {
	paymentID := attempt.PaymentID.String()
	currency := strings.ToUpper(strings.TrimSpace(attempt.Currency))
	if strings.TrimSpace(attempt.SourceToken) == "" {
		return domain.Failed(paymentID, attempt.Amount, currency, "card payment method is required")
	}
	minor, err := ToMinorUnits(attempt.Amount, currency)
	if err != nil {
		return domain.Failed(paymentID, attempt.Amount, currency, err.Error())
	}

	params := &stripesdk.PaymentIntentParams{
		Amount:        stripesdk.Int64(minor),
		Currency:      stripesdk.String(strings.ToLower(currency)),
		PaymentMethod: stripesdk.String(attempt.SourceToken),
		Confirm:       stripesdk.Bool(true),
		OffSession:    stripesdk.Bool(true),
	}
	if attempt.CustomerRef != "" {
		params.Customer = stripesdk.String(attempt.CustomerRef)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(attempt.IdempotencyKey))
	params.AddMetadata("payment_id", paymentID)
	params.AddMetadata("invoice_id", attempt.InvoiceID.String())
	for key, value := range attempt.Metadata {
		params.AddMetadata(key, value)
	}

	intent, err := a.intents.New(params)
	if err != nil {
		reason := describeError(err)
		a.log.Warn("payment intent failed",
			zap.String("payment_id", paymentID),
			zap.String("reason", reason),
		)
		return domain.Failed(paymentID, attempt.Amount, currency, reason)
	}
	if intent.Status != stripesdk.PaymentIntentStatusSucceeded {
		return domain.Result{
			PaymentID:     paymentID,
			TransactionID: intent.ID,
			Amount:        attempt.Amount,
			Currency:      currency,
			Error:         fmt.Sprintf("payment intent ended in status %s", intent.Status),
		}
	}

	return domain.Result{
		Success:       true,
		PaymentID:     paymentID,
		TransactionID: intent.ID,
		Amount:        FromMinorUnits(intent.Amount, currency),
		Currency:      currency,
	}
}

func (a *Adapter) Refund(ctx context.Context, req domain.RefundRequest) domain.Result {
	paymentID := req.PaymentID.String()
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.TransactionID == "" {
		return domain.Failed(paymentID, req.Amount, currency, "payment has no stripe transaction")
	}
	minor, err := ToMinorUnits(req.Amount, currency)
	if err != nil {
		return domain.Failed(paymentID, req.Amount, currency, err.Error())
	}

	params := &stripesdk.RefundParams{
		PaymentIntent: stripesdk.String(req.TransactionID),
		Amount:        stripesdk.Int64(minor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey(req.IdempotencyKey))
	params.AddMetadata("refund_id", req.RefundID.String())
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	result, err := a.refunds.New(params)
	if err != nil {
		return domain.Failed(paymentID, req.Amount, currency, describeError(err))
	}
	switch result.Status {
	case stripesdk.RefundStatusSucceeded, stripesdk.RefundStatusPending:
		return domain.Result{
			Success:       true,
			PaymentID:     paymentID,
			TransactionID: result.ID,
			Amount:        FromMinorUnits(result.Amount, currency),
			Currency:      currency,
		}
	default:
		return domain.Result{
			PaymentID:     paymentID,
			TransactionID: result.ID,
			Amount:        req.Amount,
			Currency:      currency,
			Error:         fmt.Sprintf("refund ended in status %s", result.Status),
		}
	}
}

func idempotencyKey(key string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return uuid.NewString()
}

func describeError(err error) string {
	var stripeErr *stripesdk.Error
	if !errors.As(err, &stripeErr) {
		return err.Error()
	}
	switch {
	case stripeErr.DeclineCode != "":
		return fmt.Sprintf("card declined (%s)", stripeErr.DeclineCode)
	case stripeErr.Code == stripesdk.ErrorCodeCardDeclined:
		return "card declined"
	case stripeErr.Code == stripesdk.ErrorCodeExpiredCard:
		return "card expired"
	case stripeErr.Code == stripesdk.ErrorCodeIncorrectCVC:
		return "incorrect card security code"
	case stripeErr.Code == stripesdk.ErrorCodeAuthenticationRequired:
		return "card requires authentication"
	case stripeErr.Msg != "":
		return stripeErr.Msg
	}
	return string(stripeErr.Type)
}

// Currencies Stripe charges without a fractional unit, and the three decimal ones.
var (
	zeroDecimal = map[string]struct{}{
		"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
		"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
	}
	threeDecimal = map[string]struct{}{
		"BHD": {}, "JOD": {}, "KWD": {}, "OMR": {}, "TND": {},
	}
)

func exponent(currency string) int32 {
	currency = strings.ToUpper(currency)
	if _, ok := zeroDecimal[currency]; ok {
		return 0
	}
	if _, ok := threeDecimal[currency]; ok {
		return 3
	}
	return 2
}

// ToMinorUnits converts an amount to the integer Stripe expects. Amounts with
// more precision than the currency allows are rejected.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if len(strings.TrimSpace(currency)) != 3 {
		return 0, domain.ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return 0, domain.ErrInvalidAmount
	}
	shifted := amount.Shift(exponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, domain.ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}

func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -exponent(currency))
}
