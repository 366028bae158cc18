package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
	"gorm.io/datatypes"
)

const opDecode = "billing_model.decode"

// document is the stored JSON form of a Model, discriminated by type.
type document struct {
	Type       Type               `json:"type"`
	HourlyRate *decimal.Decimal   `json:"hourly_rate,omitempty"`
	Amount     *decimal.Decimal   `json:"amount,omitempty"`
	TotalValue *decimal.Decimal   `json:"total_value,omitempty"`
	Payments   []MilestonePayment `json:"payments,omitempty"`
	Components []json.RawMessage  `json:"components,omitempty"`
}

func EncodeModel(m Model) (datatypes.JSON, error) {
	if m == nil {
		return nil, billingerror.Configuration("billing_model.encode", "model is required")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	doc, err := toDocument(m)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func toDocument(m Model) (document, error) {
	doc := document{Type: m.Type()}
	switch v := m.(type) {
	case Hourly:
		doc.HourlyRate = &v.HourlyRate
	case FixedFee:
		doc.Amount = &v.Amount
	case Retainer:
		doc.Amount = &v.Amount
	case Subscription:
		doc.Amount = &v.Amount
	case MilestoneBased:
		doc.TotalValue = &v.TotalValue
		doc.Payments = v.Payments
	case Mixed:
		for _, component := range v.Components {
			sub, err := toDocument(component)
			if err != nil {
				return document{}, err
			}
			raw, err := json.Marshal(sub)
			if err != nil {
				return document{}, err
			}
			doc.Components = append(doc.Components, raw)
		}
	default:
		return document{}, billingerror.Configuration("billing_model.encode", fmt.Sprintf("unknown model %T", m))
	}
	return doc, nil
}

// DecodeModel parses a stored model and rejects documents carrying fields that
// do not belong to their type.
func DecodeModel(raw []byte) (Model, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, billingerror.Configuration(opDecode, "malformed billing model").Wrap(err)
	}
	m, err := fromDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func fromDocument(doc document) (Model, error) {
	unexpected := func(field string) error {
		return billingerror.Configuration(opDecode, fmt.Sprintf("%s model cannot carry %s", doc.Type, field))
	}
	required := func(field string) error {
		return billingerror.Configuration(opDecode, fmt.Sprintf("%s model requires %s", doc.Type, field))
	}

	switch doc.Type {
	case TypeHourly:
		switch {
		case doc.Amount != nil:
			return nil, unexpected("amount")
		case doc.TotalValue != nil || len(doc.Payments) > 0:
			return nil, unexpected("milestone payments")
		case len(doc.Components) > 0:
			return nil, unexpected("components")
		case doc.HourlyRate == nil:
			return nil, required("hourly_rate")
		}
		return Hourly{HourlyRate: *doc.HourlyRate}, nil

	case TypeFixedFee, TypeRetainer, TypeSubscription:
		switch {
		case doc.HourlyRate != nil:
			return nil, unexpected("hourly_rate")
		case doc.TotalValue != nil || len(doc.Payments) > 0:
			return nil, unexpected("milestone payments")
		case len(doc.Components) > 0:
			return nil, unexpected("components")
		case doc.Amount == nil:
			return nil, required("amount")
		}
		switch doc.Type {
		case TypeFixedFee:
			return FixedFee{Amount: *doc.Amount}, nil
		case TypeRetainer:
			return Retainer{Amount: *doc.Amount}, nil
		default:
			return Subscription{Amount: *doc.Amount}, nil
		}

	case TypeMilestoneBased:
		switch {
		case doc.HourlyRate != nil:
			return nil, unexpected("hourly_rate")
		case doc.Amount != nil:
			return nil, unexpected("amount")
		case len(doc.Components) > 0:
			return nil, unexpected("components")
		}
		m := MilestoneBased{Payments: doc.Payments}
		if doc.TotalValue != nil {
			m.TotalValue = *doc.TotalValue
		}
		return m, nil

	case TypeMixed:
		if doc.HourlyRate != nil || doc.Amount != nil || doc.TotalValue != nil || len(doc.Payments) > 0 {
			return nil, unexpected("top-level amounts")
		}
		mixed := Mixed{}
		for _, raw := range doc.Components {
			var sub document
			if err := json.Unmarshal(raw, &sub); err != nil {
				return nil, billingerror.Configuration(opDecode, "malformed mixed component").Wrap(err)
			}
			if sub.Type == TypeMixed {
				return nil, billingerror.Configuration(opDecode, "mixed model cannot nest another mixed model")
			}
			component, err := fromDocument(sub)
			if err != nil {
				return nil, err
			}
			mixed.Components = append(mixed.Components, component)
		}
		return mixed, nil

	default:
		return nil, billingerror.Configuration(opDecode, fmt.Sprintf("unknown billing type %q", doc.Type))
	}
}
