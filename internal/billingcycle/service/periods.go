package service

import (
	"time"

	"github.com/smallbiznis/tally/internal/billingcycle/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
)

// DuePeriods lists the periods after last whose start is not later than now.
// Periods are billed in advance, so a period is due as soon as it begins.
// A nil last means nothing has been billed yet.
func DuePeriods(schedule domain.Schedule, last *domain.Period, now time.Time) []domain.Period {
	if now.Before(schedule.Anchor) {
		return nil
	}

	if schedule.Cycle == billingmodeldomain.CycleOneTime {
		if last != nil {
			return nil
		}
		end := schedule.Anchor
		if schedule.EndsAt != nil {
			end = *schedule.EndsAt
		}
		return []domain.Period{{Start: schedule.Anchor, End: end}}
	}

	var due []domain.Period
	for n := 0; ; n++ {
		start, ok := schedule.Cycle.AddPeriods(schedule.Anchor, n)
		if !ok || start.After(now) {
			break
		}
		if schedule.EndsAt != nil && !start.Before(*schedule.EndsAt) {
			break
		}
		if last != nil && !start.After(last.Start) {
			continue
		}
		end, _ := schedule.Cycle.AddPeriods(schedule.Anchor, n+1)
		if schedule.EndsAt != nil && end.After(*schedule.EndsAt) {
			end = *schedule.EndsAt
		}
		due = append(due, domain.Period{Start: start, End: end})
	}
	return due
}

// IsDue reports whether at least one period is waiting to be invoiced.
func IsDue(schedule domain.Schedule, last *domain.Period, now time.Time) bool {
	return len(DuePeriods(schedule, last, now)) > 0
}
