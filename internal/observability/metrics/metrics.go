package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Enabled     bool
	Endpoint    string
	Protocol    string
	ServiceName string
	Environment string
}

// Metrics holds the billing domain instruments.
type Metrics struct {
	invoices metric.Int64Counter
	payments metric.Int64Counter
	refunds  metric.Int64Counter
	gateway  metric.Float64Histogram
}

// NewProvider configures the global meter provider. A noop provider is used when export is disabled.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.Protocol, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})
	log.Info("metrics initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("protocol", cfg.Protocol),
	)

	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tally"
	}
	meter := provider.Meter(name)

	invoices, err := meter.Int64Counter("tally_invoices_total",
		metric.WithDescription("Invoice lifecycle transitions by status."))
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("tally_payments_total",
		metric.WithDescription("Payment attempts by gateway and outcome."))
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("tally_refunds_total",
		metric.WithDescription("Refund attempts by gateway and outcome."))
	if err != nil {
		return nil, err
	}
	gateway, err := meter.Float64Histogram("tally_gateway_duration_seconds",
		metric.WithDescription("Latency of outbound payment gateway calls."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoices: invoices,
		payments: payments,
		refunds:  refunds,
		gateway:  gateway,
	}, nil
}

// NewNop returns instruments bound to a noop provider, used in tests.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordInvoiceTransition(ctx context.Context, orgID, status string) {
	if m == nil {
		return
	}
	m.invoices.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("org_id", orgID),
		attribute.String("status", status),
	)...))
}

func (m *Metrics) RecordPayment(ctx context.Context, gateway, outcome string) {
	if m == nil {
		return
	}
	m.payments.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("gateway", gateway),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordRefund(ctx context.Context, gateway, outcome string) {
	if m == nil {
		return
	}
	m.refunds.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("gateway", gateway),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) ObserveGatewayCall(ctx context.Context, gateway, operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gateway.Record(ctx, elapsed.Seconds(), metric.WithAttributes(FilterAttributes(
		attribute.String("gateway", gateway),
		attribute.String("operation", operation),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":    {},
	"status":    {},
	"gateway":   {},
	"outcome":   {},
	"operation": {},
}

// FilterAttributes drops labels outside the allow-list to keep series cardinality bounded.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
