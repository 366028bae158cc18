// Package export turns invoices and profitability figures into downloadable files.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/tally/internal/billingerror"
	"github.com/smallbiznis/tally/internal/config"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/orgcontext"
	profitabilitydomain "github.com/smallbiznis/tally/internal/profitability/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"github.com/smallbiznis/tally/internal/report"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	Renderers     *report.Registry
	Invoices      invoicedomain.Service
	Profitability profitabilitydomain.Service
	Projects      projectdomain.Repository
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	author        string
	renderers     *report.Registry
	invoices      invoicedomain.Service
	profitability profitabilitydomain.Service
	projects      projectdomain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("export.service"),
		author:        p.Cfg.AppName,
		renderers:     p.Renderers,
		invoices:      p.Invoices,
		profitability: p.Profitability,
		projects:      p.Projects,
	}
}

func (s *Service) Invoice(ctx context.Context, id snowflake.ID, format report.Format) (*File, error) {
	invoice, err := s.invoices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	table := InvoiceTable(invoice)
	return s.render(ctx, table, format, "invoice "+invoice.InvoiceNumber)
}

func (s *Service) Profitability(ctx context.Context, projectID snowflake.ID, format report.Format) (*File, error) {
	orgID, err := orgcontext.Require(ctx)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.FindProject(ctx, s.db, orgID, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, billingerror.NotFound("export.profitability", "project not found").WithProject(projectID)
	}
	metrics, err := s.profitability.Compute(ctx, projectID)
	if err != nil {
		return nil, err
	}
	table := ProfitabilityTable(project.Name, metrics)
	return s.render(ctx, table, format, "profitability "+project.Name)
}

func (s *Service) render(ctx context.Context, table report.Table, format report.Format, name string) (*File, error) {
	renderer, err := s.renderers.For(format)
	if err != nil {
		return nil, err
	}
	data, err := renderer.Render(ctx, table, report.Options{Author: s.author, SheetName: table.Title})
	if err != nil {
		return nil, err
	}
	s.log.Debug("export rendered", zap.String("format", string(format)), zap.Int("bytes", len(data)))
	return &File{
		Name:        fmt.Sprintf("%s.%s", slug.Make(name), format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func InvoiceTable(invoice *invoicedomain.Invoice) report.Table {
	rows := make([][]string, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		rows = append(rows, []string{
			item.Description,
			item.Quantity.Round(2).String(),
			item.Rate.StringFixed(2),
			item.Amount.StringFixed(2),
		})
	}
	summary := []report.Field{{Label: "Subtotal", Value: invoice.Subtotal.StringFixed(2)}}
	if invoice.DiscountAmount.IsPositive() {
		summary = append(summary, report.Field{Label: "Discount", Value: "-" + invoice.DiscountAmount.StringFixed(2)})
	}
	if invoice.TaxAmount.IsPositive() {
		summary = append(summary, report.Field{Label: "Tax", Value: invoice.TaxAmount.StringFixed(2)})
	}
	summary = append(summary, report.Field{Label: "Total " + invoice.Currency, Value: invoice.Total.StringFixed(2)})

	return report.Table{
		Title: "Invoice " + invoice.InvoiceNumber,
		Meta: []report.Field{
			{Label: "Status", Value: string(invoice.Status)},
			{Label: "Issued", Value: dateOf(invoice.IssuedAt)},
			{Label: "Due", Value: dateOf(invoice.DueAt)},
		},
		Columns: []report.Column{
			{Header: "Description"},
			{Header: "Quantity", Align: report.AlignRight, Numeric: true},
			{Header: "Rate", Align: report.AlignRight, Numeric: true},
			{Header: "Amount", Align: report.AlignRight, Numeric: true},
		},
		Rows:    rows,
		Summary: summary,
	}
}

func ProfitabilityTable(projectName string, m *profitabilitydomain.Metrics) report.Table {
	return report.Table{
		Title: "Profitability " + projectName,
		Columns: []report.Column{
			{Header: "Metric"},
			{Header: "Value", Align: report.AlignRight, Numeric: true},
		},
		Rows: [][]string{
			{"Total revenue", m.TotalRevenue.StringFixed(2)},
			{"Total expenses", m.TotalExpenses.StringFixed(2)},
			{"Profit", m.Profit.StringFixed(2)},
			{"Profit margin %", m.ProfitMargin.StringFixed(2)},
			{"Total hours", m.TotalHours.StringFixed(2)},
			{"Billable hours", m.BillableHours.StringFixed(2)},
			{"Effective hourly rate", m.HourlyRate.StringFixed(2)},
			{"Billing efficiency %", m.BillingEfficiency.StringFixed(2)},
		},
	}
}

func dateOf(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.DateOnly)
}
