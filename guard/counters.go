package guard

import "github.com/warp/guard-ledger/generic"

// =============================================================================
// COUNTERS - Materialized view over days + ledger + config
// =============================================================================

// Counters is the summary shown to the user. It is always recomputed, never
// patched in place.
type Counters struct {
	AccumulatedFree        int `json:"accumulated_free"`
	UsedFree               int `json:"used_free"`
	PersonalLeaveRemaining int `json:"personal_leave_remaining"`
	VacationRemaining      int `json:"vacation_remaining"`
	GuardsDone             int `json:"guards_done"`
	GuardsPlanned          int `json:"guards_planned"`
}

func (c Counters) Equal(o Counters) bool { return c == o }

// CalculateCounters folds the ledger (all time) and the days of asOf's year.
// The ledger fold is a sum, so movement order does not matter.
func CalculateCounters(days []Day, ledger []Movement, cfg Config, asOf generic.TimePoint) Counters {
	var c Counters

	for _, m := range ledger {
		switch {
		case m.Category == CategoryGuard && m.Kind == KindCredit:
			c.AccumulatedFree += m.Amount
			c.GuardsDone++
		case m.Category == CategoryFreeDay && m.Kind == KindDebit:
			c.UsedFree += abs(m.Amount)
			c.AccumulatedFree -= abs(m.Amount)
		case m.Category == CategoryAdjust || m.Kind == KindAdjust:
			c.AccumulatedFree += m.Amount
		case m.Category == CategoryOther && m.Kind == KindCredit:
			c.AccumulatedFree += m.Amount
		case m.Category == CategoryOther && m.Kind == KindDebit:
			c.AccumulatedFree -= abs(m.Amount)
		}
	}
	if c.AccumulatedFree < 0 {
		c.AccumulatedFree = 0
	}

	var personal, vacation int
	plannedWeeks := make(map[string]struct{})
	for _, d := range days {
		if d.Date.Year() != asOf.Year() {
			continue
		}
		for _, t := range d.Tags {
			switch t.Type {
			case TagPersonalLeave:
				personal++
			case TagVacation:
				if cfg.ExcludeWeekendsFromVacation && d.Date.IsWeekend() {
					continue
				}
				vacation++
			case TagGuardPlanned:
				plannedWeeks[accountForTag(d.Date, t).Ref()] = struct{}{}
			}
		}
	}
	c.PersonalLeaveRemaining = cfg.PersonalLeaveAnnual - personal
	c.VacationRemaining = cfg.VacationAnnual - vacation
	c.GuardsPlanned = len(plannedWeeks)

	return c
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
