// Package render produces the printable HTML view of an invoice.
package render

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Invoice.Number}}</title>
  <style>
    :root { --primary: {{.Branding.PrimaryColor}}; }
    body { margin: 0; padding: 40px; font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .sheet { background: #fff; max-width: 760px; margin: 0 auto; padding: 56px; border-radius: 4px; }
    .header, .meta { display: flex; justify-content: space-between; margin-bottom: 36px; }
    h1 { margin: 0; font-size: 24px; color: var(--primary); }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; margin-bottom: 6px; font-weight: 600; }
    .value { font-size: 14px; line-height: 1.5; }
    .status { font-size: 12px; font-weight: 700; color: var(--primary); }
    table { width: 100%; border-collapse: collapse; margin-bottom: 28px; }
    th { text-align: left; text-transform: uppercase; font-size: 11px; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 10px 0; }
    td { padding: 14px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; vertical-align: top; }
    .right { text-align: right; }
    .sub { font-size: 12px; color: #697386; }
    .totals { margin-left: auto; width: 280px; }
    .row { display: flex; justify-content: space-between; padding: 6px 0; font-size: 14px; }
    .final { border-top: 1px solid #e3e8ee; margin-top: 8px; padding-top: 10px; font-weight: 700; font-size: 16px; }
    .footer { margin-top: 56px; font-size: 12px; color: #8792a2; border-top: 1px solid #e3e8ee; padding-top: 20px; }
  </style>
</head>
<body>
  <div class="sheet">
    <div class="header">
      <div>
        <h1>Invoice</h1>
        <div class="label" style="margin-top: 12px;">Invoice number</div>
        <div class="value">{{.Invoice.Number}}</div>
        <div class="status">{{.Invoice.Status}}</div>
      </div>
      <div class="value"><strong>{{.Branding.CompanyName}}</strong></div>
    </div>

    <div class="meta">
      <div>
        <div class="label">Bill to</div>
        <div class="value"><strong>{{.Client.Name}}</strong>{{if .Client.Email}}<br>{{.Client.Email}}{{end}}</div>
        <div class="label" style="margin-top: 16px;">Project</div>
        <div class="value">{{.Project}}</div>
      </div>
      <div>
        <div class="label">Date issued</div>
        <div class="value">{{formatDate .Invoice.IssuedAt}}</div>
        <div class="label" style="margin-top: 16px;">Date due</div>
        <div class="value">{{formatDate .Invoice.DueAt}}</div>
      </div>
    </div>

    <table>
      <thead>
        <tr>
          <th style="width: 50%;">Description</th>
          <th class="right">Qty</th>
          <th class="right">Rate</th>
          <th class="right">Amount</th>
        </tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr>
          <td>{{.Description}}{{if .Period}}<div class="sub">{{.Period}}</div>{{end}}</td>
          <td class="right">{{formatQuantity .Quantity}}</td>
          <td class="right">{{formatMoney .Rate $.Invoice.Currency}}</td>
          <td class="right">{{formatMoney .Amount $.Invoice.Currency}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="totals">
      <div class="row"><span>Subtotal</span><span>{{formatMoney .Invoice.Subtotal .Invoice.Currency}}</span></div>
      {{if .Invoice.Discount.IsPositive}}<div class="row"><span>Discount</span><span>-{{formatMoney .Invoice.Discount .Invoice.Currency}}</span></div>{{end}}
      {{if .Invoice.Tax.IsPositive}}<div class="row"><span>Tax</span><span>{{formatMoney .Invoice.Tax .Invoice.Currency}}</span></div>{{end}}
      <div class="row final"><span>Total</span><span>{{formatMoney .Invoice.Total .Invoice.Currency}}</span></div>
      <div class="row"><span>Amount due</span><span>{{formatMoney .Invoice.AmountDue .Invoice.Currency}}</span></div>
    </div>

    {{if .Branding.FooterNotes}}<div class="footer">{{.Branding.FooterNotes}}</div>{{end}}
  </div>
</body>
</html>
`

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const defaultColor = "#111827"

type Renderer interface {
	RenderHTML(input RenderInput) (string, error)
}

type RenderInput struct {
	Invoice  InvoiceView
	Client   ClientView
	Project  string
	Items    []ItemView
	Branding Branding
}

type InvoiceView struct {
	Number    string
	Status    string
	Currency  string
	IssuedAt  *time.Time
	DueAt     *time.Time
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	AmountDue decimal.Decimal
}

type ClientView struct {
	Name  string
	Email string
}

type ItemView struct {
	Description string
	Period      string
	Quantity    decimal.Decimal
	Rate        decimal.Decimal
	Amount      decimal.Decimal
}

type Branding struct {
	CompanyName  string
	PrimaryColor string
	FooterNotes  string
}

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney":    formatMoney,
		"formatDate":     formatDate,
		"formatQuantity": formatQuantity,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderHTML(input RenderInput) (string, error) {
	input.Branding.PrimaryColor = sanitizeColor(input.Branding.PrimaryColor)
	if input.Branding.CompanyName == "" {
		input.Branding.CompanyName = "Invoice"
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return currency + " " + amount.StringFixed(2)
}

func formatDate(value *time.Time) string {
	if value == nil || value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02")
}

func formatQuantity(value decimal.Decimal) string {
	return value.Round(2).String()
}

func sanitizeColor(value string) string {
	trimmed := strings.TrimSpace(value)
	if hexColorPattern.MatchString(trimmed) {
		return trimmed
	}
	return defaultColor
}
