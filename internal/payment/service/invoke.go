package service

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/observability/tracing"
	"github.com/smallbiznis/tally/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	OperationCharge = "charge"
	OperationRefund = "refund"
)

// Invoke runs one gateway call under timeout. A call that outlives the
// deadline, or whose caller goes away first, yields a failed Result;
// whatever the gateway returns afterwards is discarded.
func Invoke(ctx context.Context, gateway domain.Gateway, operation string, timeout time.Duration, metrics *obsmetrics.Metrics, fallback domain.Result, call func(context.Context) domain.Result) domain.Result {
	ctx, span := tracing.StartSpan(ctx, "gateway."+operation,
		attribute.String("gateway", gateway.Name()),
		attribute.String("operation", operation),
	)
	defer span.End()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	done := make(chan domain.Result, 1)
	go func() {
		done <- call(ctx)
	}()

	var result domain.Result
	select {
	case result = <-done:
	case <-ctx.Done():
		result = fallback
		result.Success = false
		result.Error = "gateway timed out"
		if errors.Is(ctx.Err(), context.Canceled) {
			result.Error = "gateway call canceled"
		}
	}
	metrics.ObserveGatewayCall(ctx, gateway.Name(), operation, time.Since(started))

	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}
