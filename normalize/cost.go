package normalize

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CostSchedule is one effective-dated unit cost row for a SKU. Both bounds
// are inclusive; a nil EffectiveTo means open-ended.
type CostSchedule struct {
	SKU           string
	UnitCost      decimal.Decimal
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// Covers reports whether the schedule row is in effect on the given date.
func (c CostSchedule) Covers(on time.Time) bool {
	day := DateOf(on)
	if day.Before(DateOf(c.EffectiveFrom)) {
		return false
	}
	if c.EffectiveTo != nil && day.After(DateOf(*c.EffectiveTo)) {
		return false
	}
	return true
}

// DateOf truncates a timestamp to its UTC calendar date. Cost schedules are
// date-granular; orders are valued as of their own day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ScheduleSet is an in-memory CostResolver over a fixed set of schedule
// rows. The pgx store answers the same question with one query; this form
// serves tests and small seeded deployments.
type ScheduleSet []CostSchedule

// UnitCost resolves the row with the latest EffectiveFrom that covers the
// date. found is false when nothing covers it.
func (s ScheduleSet) UnitCost(_ context.Context, sku string, on time.Time) (decimal.Decimal, bool, error) {
	var (
		best  CostSchedule
		found bool
	)
	for _, row := range s {
		if row.SKU != sku || !row.Covers(on) {
			continue
		}
		if !found || row.EffectiveFrom.After(best.EffectiveFrom) {
			best = row
			found = true
		}
	}
	if !found {
		return decimal.Decimal{}, false, nil
	}
	return best.UnitCost, true, nil
}
