package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/invoice/render"
	"github.com/smallbiznis/tally/internal/notify/email"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	"go.uber.org/zap"
)

// RenderInvoice returns the printable HTML document for an invoice. The amount
// due is the total less succeeded payments.
func (s *Service) RenderInvoice(ctx context.Context, id snowflake.ID) (string, error) {
	if s.renderer == nil {
		return "", errors.New("renderer_not_configured")
	}
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	input := render.RenderInput{
		Invoice: render.InvoiceView{
			Number:   invoice.InvoiceNumber,
			Status:   string(invoice.Status),
			Currency: invoice.Currency,
			IssuedAt: invoice.IssuedAt,
			DueAt:    invoice.DueAt,
			Subtotal: invoice.Subtotal,
			Discount: invoice.DiscountAmount,
			Tax:      invoice.TaxAmount,
			Total:    invoice.Total,
		},
		Branding: render.Branding{CompanyName: s.cfg.AppName},
	}

	project, err := s.projects.FindProject(ctx, s.db, invoice.OrgID, invoice.ProjectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", billingerror.NotFound("invoice.render", "project not found").WithInvoice(id)
	}
	input.Project = project.Name
	client, err := s.projects.FindClient(ctx, s.db, invoice.OrgID, project.ClientID)
	if err != nil {
		return "", err
	}
	if client != nil {
		input.Client = render.ClientView{Name: client.Name, Email: client.Email}
	}

	payments, err := s.payments.ListByInvoice(ctx, s.db, invoice.OrgID, invoice.ID)
	if err != nil {
		return "", err
	}
	input.Invoice.AmountDue = invoice.Total.Sub(sumPayments(payments, paymentdomain.StatusSucceeded))
	if input.Invoice.AmountDue.IsNegative() || invoice.Status == invoicedomain.InvoiceStatusCancelled {
		input.Invoice.AmountDue = decimal.Zero
	}

	for _, item := range invoice.Items {
		view := render.ItemView{
			Description: item.Description,
			Quantity:    item.Quantity,
			Rate:        item.Rate,
			Amount:      item.Amount,
		}
		if item.PeriodStart != nil && item.PeriodEnd != nil {
			view.Period = item.PeriodStart.Format("2006-01-02") + " to " + item.PeriodEnd.Format("2006-01-02")
		}
		input.Items = append(input.Items, view)
	}

	return s.renderer.RenderHTML(input)
}

func (s *Service) deliver(ctx context.Context, invoice *invoicedomain.Invoice) {
	if s.mailer == nil {
		return
	}
	if _, ok := s.mailer.(email.NoOpProvider); ok {
		return
	}
	log := s.log.With(zap.String("invoice_id", invoice.ID.String()))

	project, err := s.projects.FindProject(ctx, s.db, invoice.OrgID, invoice.ProjectID)
	if err != nil || project == nil {
		log.Warn("skip invoice email, project lookup failed", zap.Error(err))
		return
	}
	client, err := s.projects.FindClient(ctx, s.db, invoice.OrgID, project.ClientID)
	if err != nil || client == nil || client.Email == "" {
		log.Info("skip invoice email, client has no billing address", zap.Error(err))
		return
	}

	body, err := s.RenderInvoice(ctx, invoice.ID)
	if err != nil {
		log.Warn("skip invoice email, render failed", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("Invoice %s from %s", invoice.InvoiceNumber, s.cfg.AppName)
	if err := s.mailer.Send(ctx, []string{client.Email}, subject, body); err != nil {
		log.Warn("invoice email failed", zap.Error(err))
		return
	}
	log.Info("invoice emailed", zap.String("to", client.Email))
}
