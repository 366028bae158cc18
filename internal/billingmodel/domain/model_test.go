package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tally/internal/billingerror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestMilestonePaymentResolve(t *testing.T) {
	total := dec("2000")

	amount, err := MilestonePayment{MilestoneID: 1, Amount: decPtr("500")}.Resolve(total)
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("500")))

	amount, err = MilestonePayment{MilestoneID: 2, Percentage: decPtr("12.5")}.Resolve(total)
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("250")))

	amount, err = MilestonePayment{MilestoneID: 3, Amount: decPtr("250"), Percentage: decPtr("12.5")}.Resolve(total)
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("250")))

	_, err = MilestonePayment{MilestoneID: 4, Amount: decPtr("300"), Percentage: decPtr("12.5")}.Resolve(total)
	assert.True(t, errors.Is(err, billingerror.ErrConfiguration))

	_, err = MilestonePayment{MilestoneID: 5}.Resolve(total)
	assert.True(t, errors.Is(err, billingerror.ErrConfiguration))
}

func TestMixedRejectsNestingAndDuplicates(t *testing.T) {
	nested := Mixed{Components: []Model{Hourly{HourlyRate: dec("10")}, Mixed{}}}
	assert.True(t, errors.Is(nested.Validate(), billingerror.ErrConfiguration))

	dup := Mixed{Components: []Model{Hourly{HourlyRate: dec("10")}, Hourly{HourlyRate: dec("20")}}}
	assert.True(t, errors.Is(dup.Validate(), billingerror.ErrConfiguration))

	ok := Mixed{Components: []Model{Retainer{Amount: dec("1000")}, Hourly{HourlyRate: dec("150")}}}
	assert.NoError(t, ok.Validate())
	assert.Len(t, Components(ok), 2)
}

func TestEncodeDecodeKeepsVariant(t *testing.T) {
	original := Mixed{Components: []Model{
		Retainer{Amount: dec("1500")},
		MilestoneBased{TotalValue: dec("10000"), Payments: []MilestonePayment{
			{MilestoneID: 7, Percentage: decPtr("40")},
		}},
	}}

	raw, err := EncodeModel(original)
	require.NoError(t, err)

	decoded, err := DecodeModel(raw)
	require.NoError(t, err)

	mixed, ok := decoded.(Mixed)
	require.True(t, ok)
	require.Len(t, mixed.Components, 2)
	assert.Equal(t, TypeRetainer, mixed.Components[0].Type())

	milestones, ok := mixed.Components[1].(MilestoneBased)
	require.True(t, ok)
	payment, found := milestones.PaymentFor(7)
	require.True(t, found)
	amount, err := payment.Resolve(milestones.TotalValue)
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("4000")))
}

func TestDecodeRejectsFieldsFromOtherTypes(t *testing.T) {
	_, err := DecodeModel([]byte(`{"type":"HOURLY","hourly_rate":"100","amount":"5000"}`))
	assert.True(t, errors.Is(err, billingerror.ErrConfiguration))

	_, err = DecodeModel([]byte(`{"type":"FIXED_FEE"}`))
	assert.True(t, errors.Is(err, billingerror.ErrConfiguration))

	_, err = DecodeModel([]byte(`{"type":"MIXED","components":[{"type":"MIXED","components":[]}]}`))
	assert.True(t, errors.Is(err, billingerror.ErrConfiguration))

	_, err = DecodeModel([]byte(`{"type":"BARTER"}`))
	assert.True(t, errors.Is(err, billingerror.ErrConfiguration))
}

func TestConfigurationValidate(t *testing.T) {
	cfg := Configuration{BillingCycle: CycleMonthly, PaymentTerms: 30, TaxRate: dec("10"), Currency: "USD"}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.TaxRate = dec("101")
	assert.True(t, errors.Is(bad.Validate(), billingerror.ErrConfiguration))

	bad = cfg
	bad.Currency = "ZZZ"
	assert.True(t, errors.Is(bad.Validate(), billingerror.ErrConfiguration))

	bad = cfg
	bad.PaymentTerms = -1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.BillingCycle = "DAILY"
	assert.Error(t, bad.Validate())
}

func TestBillingCycleAddPeriodsClampsToMonthEnd(t *testing.T) {
	anchor := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)

	feb, ok := CycleMonthly.AddPeriods(anchor, 1)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), feb)

	mar, _ := CycleMonthly.AddPeriods(anchor, 2)
	assert.Equal(t, time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC), mar)

	q, _ := CycleQuarterly.AddPeriods(anchor, 1)
	assert.Equal(t, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC), q)

	leap := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	y, _ := CycleYearly.Advance(leap)
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), y)

	w, _ := CycleWeekly.Advance(anchor)
	assert.Equal(t, time.Date(2024, time.February, 7, 0, 0, 0, 0, time.UTC), w)

	_, ok = CycleOneTime.Advance(anchor)
	assert.False(t, ok)
}
