package guard

import (
	"fmt"
	"strings"

	"github.com/warp/guard-ledger/generic"
)

const guardRefPrefix = "G."

// GuardAccountID identifies the entitlement earned by one guard week. It wraps
// the week's first date; the string form only exists at the storage boundary.
type GuardAccountID struct {
	start generic.TimePoint
}

func NewGuardAccountID(weekStart generic.TimePoint) GuardAccountID {
	return GuardAccountID{start: weekStart}
}

// ParseGuardAccountID is the inverse of Ref.
func ParseGuardAccountID(ref string) (GuardAccountID, error) {
	if !strings.HasPrefix(ref, guardRefPrefix) {
		return GuardAccountID{}, fmt.Errorf("%w: guard reference %q", generic.ErrInvalidDate, ref)
	}
	tp, err := generic.ParseDate(strings.TrimPrefix(ref, guardRefPrefix))
	if err != nil {
		return GuardAccountID{}, err
	}
	return GuardAccountID{start: tp}, nil
}

func (id GuardAccountID) WeekStart() generic.TimePoint { return id.start }
func (id GuardAccountID) IsZero() bool                 { return id.start.IsZero() }
func (id GuardAccountID) Equal(o GuardAccountID) bool  { return id.start.Equal(o.start) }

// Ref is the stored source reference, e.g. "G.2025-02-03".
func (id GuardAccountID) Ref() string { return guardRefPrefix + id.start.String() }

// Label is the short display form, e.g. "G.03/02".
func (id GuardAccountID) Label() string {
	return fmt.Sprintf("G.%02d/%02d", id.start.Day(), int(id.start.Month()))
}

func (id GuardAccountID) String() string { return id.Ref() }

// Days returns the seven days of the guard week.
func (id GuardAccountID) Days() []generic.TimePoint {
	days := make([]generic.TimePoint, 7)
	for i := range days {
		days[i] = id.start.AddDays(i)
	}
	return days
}

// accountForTag resolves the account a guard or free-day tag belongs to:
// the stored guardRef when present, otherwise the Monday of the tag's week.
func accountForTag(date generic.TimePoint, tag Tag) GuardAccountID {
	if ref := tag.MetaString(MetaGuardRef); ref != "" {
		if id, err := ParseGuardAccountID(ref); err == nil {
			return id
		}
	}
	return NewGuardAccountID(date.WeekStart())
}

// OrdinalLabel formats a 1-based debit ordinal ("D.3").
func OrdinalLabel(n int) string { return fmt.Sprintf("D.%d", n) }

// ParseOrdinal is the inverse of OrdinalLabel.
func ParseOrdinal(s string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(s, "D.%d", &n); err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
