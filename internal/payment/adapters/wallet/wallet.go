// Package wallet talks to a PayPal-style wallet provider over its REST API.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/payment/domain"
	"go.uber.org/zap"
)

const Name = "wallet"

type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	log     *zap.Logger
}

func New(baseURL, token string, client *http.Client, log *zap.Logger) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		log:     log.Named("payment.wallet"),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Methods() []domain.Method {
	return []domain.Method{domain.MethodWallet}
}

type captureRequest struct {
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	WalletToken string            `json:"wallet_token"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type refundRequest struct {
	CaptureID string `json:"capture_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason,omitempty"`
}

type providerResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount string `json:"amount"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Adapter) ProcessPayment(ctx context.Context, attempt domain.Attempt) domain.Result {
	paymentID := attempt.PaymentID.String()
	currency := strings.ToUpper(attempt.Currency)
	if strings.TrimSpace(attempt.SourceToken) == "" {
		return domain.Failed(paymentID, attempt.Amount, currency, "wallet token is required")
	}
	body := captureRequest{
		Amount:      attempt.Amount.StringFixed(2),
		Currency:    currency,
		WalletToken: attempt.SourceToken,
		Reference:   paymentID,
		Metadata:    attempt.Metadata,
	}
	resp, err := a.post(ctx, "/v1/captures", attempt.IdempotencyKey, body)
	if err != nil {
		a.log.Warn("wallet capture failed", zap.String("payment_id", paymentID), zap.Error(err))
		return domain.Failed(paymentID, attempt.Amount, currency, err.Error())
	}
	return toResult(paymentID, attempt.Amount, currency, resp)
}

func (a *Adapter) Refund(ctx context.Context, req domain.RefundRequest) domain.Result {
	paymentID := req.PaymentID.String()
	currency := strings.ToUpper(req.Currency)
	if req.TransactionID == "" {
		return domain.Failed(paymentID, req.Amount, currency, "payment has no wallet capture")
	}
	body := refundRequest{
		CaptureID: req.TransactionID,
		Amount:    req.Amount.StringFixed(2),
		Currency:  currency,
		Reason:    req.Reason,
	}
	resp, err := a.post(ctx, "/v1/refunds", req.IdempotencyKey, body)
	if err != nil {
		a.log.Warn("wallet refund failed", zap.String("payment_id", paymentID), zap.Error(err))
		return domain.Failed(paymentID, req.Amount, currency, err.Error())
	}
	return toResult(paymentID, req.Amount, currency, resp)
}

func toResult(paymentID string, requested decimal.Decimal, currency string, resp *providerResponse) domain.Result {
	if resp.Error != nil {
		reason := resp.Error.Message
		if reason == "" {
			reason = resp.Error.Code
		}
		return domain.Result{PaymentID: paymentID, TransactionID: resp.ID, Amount: requested, Currency: currency, Error: reason}
	}
	if !strings.EqualFold(resp.Status, "COMPLETED") {
		return domain.Result{
			PaymentID:     paymentID,
			TransactionID: resp.ID,
			Amount:        requested,
			Currency:      currency,
			Error:         fmt.Sprintf("wallet returned status %s", resp.Status),
		}
	}
	amount := requested
	if parsed, err := decimal.NewFromString(resp.Amount); err == nil {
		amount = parsed
	}
	return domain.Result{
		Success:       true,
		PaymentID:     paymentID,
		TransactionID: resp.ID,
		Amount:        amount,
		Currency:      currency,
	}
}

func (a *Adapter) post(ctx context.Context, path, idempotencyKey string, body any) (*providerResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out providerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			if res.StatusCode >= http.StatusBadRequest {
				return nil, fmt.Errorf("wallet http %d", res.StatusCode)
			}
			return nil, fmt.Errorf("decode wallet response: %w", err)
		}
	}
	if res.StatusCode >= http.StatusBadRequest && out.Error == nil {
		return nil, fmt.Errorf("wallet http %d", res.StatusCode)
	}
	return &out, nil
}
