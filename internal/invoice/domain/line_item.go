package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type LineItemType string

const (
	LineItemTimeEntry          LineItemType = "time_entry"
	LineItemExpense            LineItemType = "expense"
	LineItemMilestone          LineItemType = "milestone"
	LineItemFlatFee            LineItemType = "flat_fee"
	LineItemSubscriptionPeriod LineItemType = "subscription_period"
	LineItemCustom             LineItemType = "custom"
)

// LineItem is a priced row before it is persisted.
type LineItem struct {
	Type        LineItemType    `json:"type"`
	ReferenceID string          `json:"reference_id"`
	SourceID    *snowflake.ID   `json:"source_id,omitempty"`
	ContractID  *snowflake.ID   `json:"contract_id,omitempty"`
	Component   string          `json:"component,omitempty"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// FlatItem builds an item whose amount is authoritative: quantity 1 at rate amount.
func FlatItem(t LineItemType, referenceID, description string, amount decimal.Decimal) LineItem {
	return LineItem{
		Type:        t,
		ReferenceID: referenceID,
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		Rate:        amount,
		Amount:      amount,
	}
}

// Check enforces amount == quantity * rate on time based items and quantity 1 on flat ones.
func (li LineItem) Check() error {
	if li.Amount.IsNegative() {
		return fmt.Errorf("line item %s has a negative amount", li.ReferenceID)
	}
	switch li.Type {
	case LineItemTimeEntry, LineItemCustom:
		if !li.Quantity.Mul(li.Rate).Round(2).Equal(li.Amount.Round(2)) {
			return fmt.Errorf("line item %s amount %s != %s x %s", li.ReferenceID, li.Amount, li.Quantity, li.Rate)
		}
	default:
		if !li.Quantity.Equal(decimal.NewFromInt(1)) || !li.Rate.Equal(li.Amount) {
			return fmt.Errorf("line item %s must be quantity 1 at rate %s", li.ReferenceID, li.Amount)
		}
	}
	return nil
}

// Totals are the computed amounts of a set of line items.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals applies the discount to the subtotal first and taxes the
// discounted amount. Both adjustments round half up to cents.
func ComputeTotals(items []LineItem, taxRate, discountRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Amount)
	}
	subtotal = subtotal.Round(2)
	discount := subtotal.Mul(discountRate).Div(hundred).Round(2)
	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(taxRate).Div(hundred).Round(2)

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		Total:          taxable.Add(tax),
	}
}

// Draft is an unsaved invoice produced by the line item builder.
type Draft struct {
	ProjectID    snowflake.ID    `json:"project_id"`
	ClientID     snowflake.ID    `json:"client_id"`
	ContractID   snowflake.ID    `json:"contract_id"`
	Currency     string          `json:"currency"`
	PaymentTerms int             `json:"payment_terms"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	LineItems    []LineItem      `json:"line_items"`
	// Force allows a fixed fee that a live invoice already carries.
	Force        bool            `json:"force,omitempty"`
	Totals
}
