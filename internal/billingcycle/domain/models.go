// Package domain models recurring billing periods for RETAINER and
// SUBSCRIPTION contracts.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"gorm.io/gorm"
)

// Period is a half-open billing window [Start, End). A ONE_TIME period has End equal to Start
// unless the contract carries an end date.
type Period struct {
	Start time.Time
	End   time.Time
}

// Schedule is the part of a contract that decides when periods start.
type Schedule struct {
	Cycle  billingmodeldomain.BillingCycle
	Anchor time.Time
	EndsAt *time.Time
}

func ScheduleOf(contract *billingmodeldomain.Contract) Schedule {
	return Schedule{
		Cycle:  contract.BillingCycle,
		Anchor: contract.StartsAt,
		EndsAt: contract.EndsAt,
	}
}

type Repository interface {
	// LastBilledPeriod returns the latest period of component billed on a non-cancelled invoice.
	LastBilledPeriod(ctx context.Context, db *gorm.DB, orgID, contractID snowflake.ID, component billingmodeldomain.Type) (*Period, error)
}

type Service interface {
	DuePeriods(ctx context.Context, db *gorm.DB, contract *billingmodeldomain.Contract, component billingmodeldomain.Type, now time.Time) ([]Period, error)
}
