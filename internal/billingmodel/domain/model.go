// Package domain describes how a project is billed.
package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
)

type Type string

const (
	TypeHourly         Type = "HOURLY"
	TypeFixedFee       Type = "FIXED_FEE"
	TypeMilestoneBased Type = "MILESTONE_BASED"
	TypeRetainer       Type = "RETAINER"
	TypeSubscription   Type = "SUBSCRIPTION"
	TypeMixed          Type = "MIXED"
)

func (t Type) Valid() bool {
	switch t {
	case TypeHourly, TypeFixedFee, TypeMilestoneBased, TypeRetainer, TypeSubscription, TypeMixed:
		return true
	}
	return false
}

// Model is one billing variant. Each implementation carries only the fields
// its type needs, so a HOURLY model cannot hold a fixed amount.
type Model interface {
	Type() Type
	Validate() error
	isModel()
}

type Hourly struct {
	HourlyRate decimal.Decimal
}

type FixedFee struct {
	Amount decimal.Decimal
}

type MilestoneBased struct {
	// TotalValue is the contract value percentages are taken from.
	TotalValue decimal.Decimal
	Payments   []MilestonePayment
}

type Retainer struct {
	Amount decimal.Decimal
}

type Subscription struct {
	Amount decimal.Decimal
}

// Mixed bills each component in order. Components may not be Mixed themselves
// and each type may appear once.
type Mixed struct {
	Components []Model
}

// MilestonePayment sets a milestone payout either as an absolute amount or as
// a percentage of the contract value. When both are given they must agree.
type MilestonePayment struct {
	MilestoneID snowflake.ID     `json:"milestone_id"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
}

func (Hourly) Type() Type         { return TypeHourly }
func (FixedFee) Type() Type       { return TypeFixedFee }
func (MilestoneBased) Type() Type { return TypeMilestoneBased }
func (Retainer) Type() Type       { return TypeRetainer }
func (Subscription) Type() Type   { return TypeSubscription }
func (Mixed) Type() Type          { return TypeMixed }

func (Hourly) isModel()         {}
func (FixedFee) isModel()       {}
func (MilestoneBased) isModel() {}
func (Retainer) isModel()       {}
func (Subscription) isModel()   {}
func (Mixed) isModel()          {}

const opValidate = "billing_model.validate"

var hundred = decimal.NewFromInt(100)

func (m Hourly) Validate() error {
	return nonNegative("hourly_rate", m.HourlyRate)
}

func (m FixedFee) Validate() error {
	return nonNegative("amount", m.Amount)
}

func (m Retainer) Validate() error {
	return nonNegative("amount", m.Amount)
}

func (m Subscription) Validate() error {
	return nonNegative("amount", m.Amount)
}

func (m MilestoneBased) Validate() error {
	if err := nonNegative("total_value", m.TotalValue); err != nil {
		return err
	}
	seen := make(map[snowflake.ID]struct{}, len(m.Payments))
	for _, payment := range m.Payments {
		if payment.MilestoneID == 0 {
			return billingerror.Configuration(opValidate, "milestone payment without milestone id")
		}
		if _, dup := seen[payment.MilestoneID]; dup {
			return billingerror.Configuration(opValidate,
				fmt.Sprintf("milestone %s configured more than once", payment.MilestoneID))
		}
		seen[payment.MilestoneID] = struct{}{}
		if _, err := payment.Resolve(m.TotalValue); err != nil {
			return err
		}
	}
	return nil
}

func (m Mixed) Validate() error {
	if len(m.Components) == 0 {
		return billingerror.Configuration(opValidate, "mixed model has no components")
	}
	seen := make(map[Type]struct{}, len(m.Components))
	for _, component := range m.Components {
		if component == nil {
			return billingerror.Configuration(opValidate, "mixed model has an empty component")
		}
		if component.Type() == TypeMixed {
			return billingerror.Configuration(opValidate, "mixed model cannot nest another mixed model")
		}
		if _, dup := seen[component.Type()]; dup {
			return billingerror.Configuration(opValidate,
				fmt.Sprintf("mixed model repeats component %s", component.Type()))
		}
		seen[component.Type()] = struct{}{}
		if err := component.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PaymentFor returns the payment configured for a milestone.
func (m MilestoneBased) PaymentFor(milestoneID snowflake.ID) (MilestonePayment, bool) {
	for _, payment := range m.Payments {
		if payment.MilestoneID == milestoneID {
			return payment, true
		}
	}
	return MilestonePayment{}, false
}

// Resolve returns the payout for the milestone given the contract value.
func (p MilestonePayment) Resolve(totalValue decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case p.Amount == nil && p.Percentage == nil:
		return decimal.Zero, billingerror.Configuration(opValidate,
			fmt.Sprintf("milestone %s has neither amount nor percentage", p.MilestoneID))
	case p.Percentage != nil && (p.Percentage.IsNegative() || p.Percentage.GreaterThan(hundred)):
		return decimal.Zero, billingerror.Configuration(opValidate,
			fmt.Sprintf("milestone %s percentage must be within [0,100]", p.MilestoneID))
	case p.Amount != nil && p.Amount.IsNegative():
		return decimal.Zero, billingerror.Configuration(opValidate,
			fmt.Sprintf("milestone %s amount cannot be negative", p.MilestoneID))
	}

	if p.Percentage == nil {
		return *p.Amount, nil
	}

	fromPercentage := totalValue.Mul(*p.Percentage).Div(hundred).Round(2)
	if p.Amount != nil && !p.Amount.Round(2).Equal(fromPercentage) {
		return decimal.Zero, billingerror.Configuration(opValidate,
			fmt.Sprintf("milestone %s amount %s disagrees with %s%% of %s",
				p.MilestoneID, p.Amount.StringFixed(2), p.Percentage.String(), totalValue.StringFixed(2)))
	}
	return fromPercentage, nil
}

// Components flattens a model into the ordered list of non-mixed variants it bills.
func Components(m Model) []Model {
	if mixed, ok := m.(Mixed); ok {
		return mixed.Components
	}
	return []Model{m}
}

func nonNegative(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return billingerror.Configuration(opValidate, field+" cannot be negative")
	}
	return nil
}
