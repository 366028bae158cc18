package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
)

type BillingCycle string

const (
	CycleWeekly    BillingCycle = "WEEKLY"
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleYearly    BillingCycle = "YEARLY"
	CycleOneTime   BillingCycle = "ONE_TIME"
)

// AddPeriods returns anchor moved forward by n cycles. Month based cycles keep
// the anchor's day and clamp to the last day of shorter months, so a cycle
// anchored on Jan 31 lands on Feb 28 and then Mar 31. ONE_TIME has no next
// period and reports false.
func (c BillingCycle) AddPeriods(anchor time.Time, n int) (time.Time, bool) {
	switch c {
	case CycleWeekly:
		return anchor.AddDate(0, 0, 7*n), true
	case CycleMonthly:
		return addMonthsClamped(anchor, n), true
	case CycleQuarterly:
		return addMonthsClamped(anchor, 3*n), true
	case CycleYearly:
		return addMonthsClamped(anchor, 12*n), true
	default:
		return anchor, n == 0
	}
}

// Advance returns the start of the period after the one starting at t.
func (c BillingCycle) Advance(t time.Time) (time.Time, bool) {
	return c.AddPeriods(t, 1)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}

// Configuration carries the contract terms shared by every billing type.
type Configuration struct {
	AutoInvoice  bool            `json:"auto_invoice"`
	BillingCycle BillingCycle    `json:"billing_cycle" validate:"required,oneof=WEEKLY MONTHLY QUARTERLY YEARLY ONE_TIME"`
	PaymentTerms int             `json:"payment_terms" validate:"gte=0,lte=365"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	Currency     string          `json:"currency" validate:"required,iso4217"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return billingerror.Configuration(opValidate, "invalid billing configuration").Wrap(err)
	}
	if err := percentage("tax_rate", c.TaxRate); err != nil {
		return err
	}
	return percentage("discount_rate", c.DiscountRate)
}

// Normalized upper-cases the currency.
func (c Configuration) Normalized() Configuration {
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	return c
}

func percentage(field string, value decimal.Decimal) error {
	if value.IsNegative() || value.GreaterThan(hundred) {
		return billingerror.Configuration(opValidate, field+" must be within [0,100]")
	}
	return nil
}
