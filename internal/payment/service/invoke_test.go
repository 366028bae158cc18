package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/payment/domain"
	"github.com/stretchr/testify/assert"
)

// outlastContext returns success only after the call's context is done.
func outlastContext(ctx context.Context) domain.Result {
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return domain.Result{Success: true}
}

func TestInvokeDistinguishesCancellationFromTimeout(t *testing.T) {
	gateway := &stubGateway{succeed: true}
	fallback := domain.Failed("pay_1", decimal.NewFromInt(5), "USD", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Invoke(ctx, gateway, OperationCharge, time.Second, nil, fallback, outlastContext)
	assert.False(t, result.Success)
	assert.Equal(t, "gateway call canceled", result.Error)
	assert.Equal(t, "pay_1", result.PaymentID)

	result = Invoke(context.Background(), gateway, OperationRefund, 10*time.Millisecond, nil, fallback, outlastContext)
	assert.False(t, result.Success)
	assert.Equal(t, "gateway timed out", result.Error)

	result = Invoke(context.Background(), gateway, OperationRefund, time.Second, nil, fallback, func(context.Context) domain.Result {
		return domain.Result{Success: true, PaymentID: "pay_1"}
	})
	assert.True(t, result.Success)
}
