/*
accounts.go - Guard accounts and FIFO free-day allocation

PURPOSE:
  A guard account is the entitlement earned by one completed guard week.
  It is never stored: it is rebuilt from the CREDIT/GUARD movement that
  opened it and the DEBIT/FREE_DAY movements that reference it.

FIFO POLICY:
  Accounts are walked in the CreatedAt order of their credit movement and
  the oldest open account is drained first. Both the single-day lookup
  (FindAvailableGuard) and the batch allocator use this order.

BATCH ALLOCATION:
  Requested dates are sorted ascending and popped off the front:

    accounts:  G.03/02 (5 left)   G.10/02 (5 left)
    request:   7 dates
    result:    dates 1-5 -> G.03/02 D.1..D.5
               dates 6-7 -> G.10/02 D.1..D.2

  If the accounts run dry with dates left over, the whole request fails
  with a CapacityError and nothing is written.

SEE ALSO:
  - ledger.go: movements this file folds
  - engine.go: RequestFreeDays commits an Allocation
*/
package guard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/guard-ledger/generic"
)

// =============================================================================
// GUARD ACCOUNT
// =============================================================================

type GuardAccount struct {
	ID          GuardAccountID
	Entitlement int
	Used        int
	Remaining   int
	Credits     []Movement
	Debits      []Movement // CreatedAt order
}

// Accounts folds the ledger into guard accounts, ordered by the CreatedAt of
// their first credit.
func Accounts(ledger []Movement) []GuardAccount {
	ms := append([]Movement(nil), ledger...)
	SortMovements(ms)

	byRef := make(map[string]*GuardAccount)
	var order []string
	for _, m := range ms {
		if !m.IsGuardCredit() {
			continue
		}
		acc, ok := byRef[m.SourceRef]
		if !ok {
			id, err := ParseGuardAccountID(m.SourceRef)
			if err != nil {
				id = NewGuardAccountID(m.Date)
			}
			acc = &GuardAccount{ID: id}
			byRef[m.SourceRef] = acc
			order = append(order, m.SourceRef)
		}
		acc.Entitlement += m.Amount
		acc.Credits = append(acc.Credits, m)
	}

	for _, m := range ms {
		if !m.IsFreeDayDebit() {
			continue
		}
		if acc, ok := byRef[m.SourceRef]; ok {
			acc.Debits = append(acc.Debits, m)
		}
	}

	accounts := make([]GuardAccount, 0, len(order))
	for _, ref := range order {
		acc := byRef[ref]
		acc.Used = len(acc.Debits)
		acc.Remaining = acc.Entitlement - acc.Used
		accounts = append(accounts, *acc)
	}
	return accounts
}

// FindAccount returns the account with the given id.
func FindAccount(ledger []Movement, id GuardAccountID) (GuardAccount, bool) {
	for _, acc := range Accounts(ledger) {
		if acc.ID.Equal(id) {
			return acc, true
		}
	}
	return GuardAccount{}, false
}

// DebitsFor returns the free-day debits referencing id, in CreatedAt order.
// Unlike Accounts it also sees debits whose credit has gone missing.
func DebitsFor(ledger []Movement, id GuardAccountID) []Movement {
	var debits []Movement
	for _, m := range ledger {
		if m.IsFreeDayDebit() && m.SourceRef == id.Ref() {
			debits = append(debits, m)
		}
	}
	SortMovements(debits)
	return debits
}

// FindAvailableGuard returns the oldest account with remaining balance, or nil.
func FindAvailableGuard(ledger []Movement) *GuardAccount {
	for _, acc := range Accounts(ledger) {
		if acc.Remaining > 0 {
			a := acc
			return &a
		}
	}
	return nil
}

// =============================================================================
// BATCH ALLOCATION
// =============================================================================

// Assignment binds one requested date to a guard account and ordinal.
type Assignment struct {
	Date    generic.TimePoint
	Account GuardAccountID
	Ordinal int
}

func (a Assignment) OrdinalLabel() string { return OrdinalLabel(a.Ordinal) }

// Allocate assigns dates to guard accounts FIFO. It is pure: callers commit
// the result. Duplicate dates are collapsed.
func Allocate(ledger []Movement, dates []generic.TimePoint) ([]Assignment, error) {
	queue := normalizeDates(dates)
	if len(queue) == 0 {
		return nil, nil
	}

	var (
		assignments []Assignment
		available   int
		open        int
	)
	for _, acc := range Accounts(ledger) {
		if acc.Remaining <= 0 {
			continue
		}
		open++
		available += acc.Remaining

		remaining := acc.Remaining
		used := acc.Used
		for remaining > 0 && len(queue) > 0 {
			used++
			remaining--
			assignments = append(assignments, Assignment{Date: queue[0], Account: acc.ID, Ordinal: used})
			queue = queue[1:]
		}
		if len(queue) == 0 {
			return assignments, nil
		}
	}

	requested := len(assignments) + len(queue)
	return nil, &generic.CapacityError{
		Requested: requested,
		Available: available,
		Shortfall: requested - available,
		Accounts:  open,
	}
}

func normalizeDates(dates []generic.TimePoint) []generic.TimePoint {
	sorted := append([]generic.TimePoint(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	var out []generic.TimePoint
	for _, d := range sorted {
		if len(out) > 0 && d.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// =============================================================================
// REPORTING
// =============================================================================

type DebitDetail struct {
	MovementID string            `json:"movement_id"`
	Date       generic.TimePoint `json:"date"`
	Ordinal    string            `json:"ordinal"`
	CreatedAt  time.Time         `json:"created_at"`
}

type GuardDetail struct {
	Ref         string            `json:"ref"`
	Label       string            `json:"label"`
	Date        generic.TimePoint `json:"date"`
	Entitlement int               `json:"entitlement"`
	Used        int               `json:"used"`
	Remaining   int               `json:"remaining"`
	Utilization decimal.Decimal   `json:"utilization"`
	Debits      []DebitDetail     `json:"debits"`
}

// GuardDetails reports every account with its debits numbered in CreatedAt order.
func GuardDetails(ledger []Movement) []GuardDetail {
	accounts := Accounts(ledger)
	details := make([]GuardDetail, 0, len(accounts))
	for _, acc := range accounts {
		d := GuardDetail{
			Ref:         acc.ID.Ref(),
			Label:       acc.ID.Label(),
			Date:        acc.ID.WeekStart(),
			Entitlement: acc.Entitlement,
			Used:        acc.Used,
			Remaining:   acc.Remaining,
			Utilization: utilization(acc.Used, acc.Entitlement),
			Debits:      make([]DebitDetail, len(acc.Debits)),
		}
		for i, m := range acc.Debits {
			d.Debits[i] = DebitDetail{
				MovementID: m.ID,
				Date:       m.Date,
				Ordinal:    OrdinalLabel(i + 1),
				CreatedAt:  m.CreatedAt,
			}
		}
		details = append(details, d)
	}
	return details
}

func utilization(used, entitlement int) decimal.Decimal {
	if entitlement <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(used)).Div(decimal.NewFromInt(int64(entitlement))).Round(2)
}
