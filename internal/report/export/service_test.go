package export

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/config"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type invoiceReader struct {
	invoicedomain.Service
	invoice *invoicedomain.Invoice
}

func (r invoiceReader) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.invoice, nil
}

func TestInvoiceExport(t *testing.T) {
	invoice := &invoicedomain.Invoice{
		ID:             1,
		InvoiceNumber:  "INV-000012",
		Status:         invoicedomain.InvoiceStatusSent,
		Currency:       "USD",
		Subtotal:       decimal.RequireFromString("1000"),
		DiscountAmount: decimal.RequireFromString("100"),
		TaxAmount:      decimal.RequireFromString("90"),
		Total:          decimal.RequireFromString("990"),
		Items: []invoicedomain.InvoiceItem{{
			Description: "Fixed fee: Website",
			Quantity:    decimal.NewFromInt(1),
			Rate:        decimal.RequireFromString("1000"),
			Amount:      decimal.RequireFromString("1000"),
		}},
	}
	svc := NewService(Params{
		Log:       zap.NewNop(),
		Cfg:       config.Config{AppName: "tally"},
		Renderers: report.Default(),
		Invoices:  invoiceReader{invoice: invoice},
	})

	file, err := svc.Invoice(context.Background(), 1, report.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "invoice-inv-000012.csv", file.Name)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Contains(t, string(file.Data), "Fixed fee: Website,1,1000.00,1000.00")
	assert.Contains(t, string(file.Data), "Discount,-100.00")
	assert.Contains(t, string(file.Data), "Total USD,990.00")

	_, err = svc.Invoice(context.Background(), 1, report.Format("docx"))
	assert.ErrorIs(t, err, report.ErrUnsupportedFormat)
}
