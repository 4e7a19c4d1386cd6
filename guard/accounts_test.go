package guard_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/guard-ledger/generic"
	"github.com/warp/guard-ledger/guard"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	d    = generic.MustParseDate
	base = time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)
)

// movement materializes an input the way the ledger would.
func movement(id string, in guard.MovementInput, minute int) guard.Movement {
	return guard.Movement{
		ID:        id,
		ProfileID: "agent-1",
		Date:      in.Date,
		Kind:      in.Kind,
		Category:  in.Category,
		Amount:    in.Amount,
		SourceRef: in.SourceRef,
		Note:      in.Note,
		CreatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
}

func week(s string) guard.GuardAccountID { return guard.NewGuardAccountID(d(s)) }

func datesFrom(start string, n int) []generic.TimePoint {
	out := make([]generic.TimePoint, n)
	for i := range out {
		out[i] = d(start).AddDays(i)
	}
	return out
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func TestBuildGuardCredit(t *testing.T) {
	in := guard.BuildGuardCredit(d("2025-02-03"), 5)

	assert.Equal(t, guard.KindCredit, in.Kind)
	assert.Equal(t, guard.CategoryGuard, in.Category)
	assert.Equal(t, 5, in.Amount)
	assert.Equal(t, "G.2025-02-03", in.SourceRef)
	assert.Contains(t, in.Note, "G.03/02")
}

func TestBuildFreeDayDebit(t *testing.T) {
	in := guard.BuildFreeDayDebit(d("2025-03-03"), week("2025-02-03"))

	assert.Equal(t, guard.KindDebit, in.Kind)
	assert.Equal(t, guard.CategoryFreeDay, in.Category)
	assert.Equal(t, -1, in.Amount)
	assert.Equal(t, "G.2025-02-03", in.SourceRef)
}

func TestBuildOtherAdjustment(t *testing.T) {
	credit, err := guard.BuildOtherAdjustment(d("2025-05-01"), 1, "Holiday worked")
	require.NoError(t, err)
	assert.Equal(t, guard.KindCredit, credit.Kind)
	assert.Equal(t, "Holiday worked", credit.SourceRef)

	debit, err := guard.BuildOtherAdjustment(d("2025-05-02"), -2, "Correction")
	require.NoError(t, err)
	assert.Equal(t, guard.KindDebit, debit.Kind)
	assert.Equal(t, -2, debit.Amount)

	_, err = guard.BuildOtherAdjustment(d("2025-05-03"), 0, "Nothing")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = guard.BuildOtherAdjustment(d("2025-05-03"), 1, "")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestBuildManualAdjustment_RejectsZero(t *testing.T) {
	_, err := guard.BuildManualAdjustment(d("2025-05-03"), 0, "typo")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestGuardAccountID_RefAndLabel(t *testing.T) {
	id := week("2025-02-03")
	assert.Equal(t, "G.2025-02-03", id.Ref())
	assert.Equal(t, "G.03/02", id.Label())
	assert.Len(t, id.Days(), 7)
	assert.Equal(t, d("2025-02-09"), id.Days()[6])

	parsed, err := guard.ParseGuardAccountID(id.Ref())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(id))

	_, err = guard.ParseGuardAccountID("2025-02-03")
	assert.Error(t, err)
}

func TestOrdinalLabel(t *testing.T) {
	assert.Equal(t, "D.3", guard.OrdinalLabel(3))
	n, ok := guard.ParseOrdinal("D.12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = guard.ParseOrdinal("X.1")
	assert.False(t, ok)
}

// =============================================================================
// ACCOUNTS AND ALLOCATION
// =============================================================================

func TestAccounts_DerivedFromLedger(t *testing.T) {
	ledger := []guard.Movement{
		movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1),
		movement("d1", guard.BuildFreeDayDebit(d("2025-03-03"), week("2025-02-03")), 2),
		movement("d2", guard.BuildFreeDayDebit(d("2025-03-04"), week("2025-02-03")), 3),
	}

	accounts := guard.Accounts(ledger)

	require.Len(t, accounts, 1)
	assert.Equal(t, 5, accounts[0].Entitlement)
	assert.Equal(t, 2, accounts[0].Used)
	assert.Equal(t, 3, accounts[0].Remaining)
}

func TestAllocate_FIFOAcrossAccounts(t *testing.T) {
	// GIVEN: Two guard credits of 5 days, C1 created before C2
	// WHEN: Requesting 7 free days
	// THEN: C1 gets D.1..D.5 and C2 gets D.1..D.2

	ledger := []guard.Movement{
		movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1),
		movement("c2", guard.BuildGuardCredit(d("2025-02-10"), 5), 2),
	}

	assignments, err := guard.Allocate(ledger, datesFrom("2025-03-03", 7))
	require.NoError(t, err)
	require.Len(t, assignments, 7)

	for i := 0; i < 5; i++ {
		assert.True(t, assignments[i].Account.Equal(week("2025-02-03")))
		assert.Equal(t, guard.OrdinalLabel(i+1), assignments[i].OrdinalLabel())
	}
	for i := 5; i < 7; i++ {
		assert.True(t, assignments[i].Account.Equal(week("2025-02-10")))
		assert.Equal(t, guard.OrdinalLabel(i-4), assignments[i].OrdinalLabel())
	}
}

func TestAllocate_OrdersByCreatedAtNotDate(t *testing.T) {
	// GIVEN: The later guard week was credited first
	ledger := []guard.Movement{
		movement("c-late", guard.BuildGuardCredit(d("2025-02-10"), 5), 1),
		movement("c-early", guard.BuildGuardCredit(d("2025-02-03"), 5), 2),
	}

	assignments, err := guard.Allocate(ledger, datesFrom("2025-03-03", 1))
	require.NoError(t, err)

	// THEN: The first credited account is drained first
	require.Len(t, assignments, 1)
	assert.True(t, assignments[0].Account.Equal(week("2025-02-10")))
	assert.Equal(t, "G.2025-02-10", guard.FindAvailableGuard(ledger).ID.Ref())
}

func TestAllocate_ContinuesExistingOrdinals(t *testing.T) {
	ledger := []guard.Movement{
		movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1),
		movement("d1", guard.BuildFreeDayDebit(d("2025-03-03"), week("2025-02-03")), 2),
		movement("d2", guard.BuildFreeDayDebit(d("2025-03-04"), week("2025-02-03")), 3),
	}

	assignments, err := guard.Allocate(ledger, datesFrom("2025-03-10", 2))
	require.NoError(t, err)
	assert.Equal(t, 3, assignments[0].Ordinal)
	assert.Equal(t, 4, assignments[1].Ordinal)
}

func TestAllocate_Shortfall(t *testing.T) {
	ledger := []guard.Movement{
		movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1),
		movement("c2", guard.BuildGuardCredit(d("2025-02-10"), 2), 2),
	}

	assignments, err := guard.Allocate(ledger, datesFrom("2025-03-03", 8))

	assert.Nil(t, assignments)
	var capErr *generic.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 8, capErr.Requested)
	assert.Equal(t, 7, capErr.Available)
	assert.Equal(t, 1, capErr.Shortfall)
	assert.Equal(t, 2, capErr.Accounts)
}

func TestAllocate_DuplicateDatesCollapsed(t *testing.T) {
	ledger := []guard.Movement{movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1)}

	assignments, err := guard.Allocate(ledger, []generic.TimePoint{d("2025-03-04"), d("2025-03-03"), d("2025-03-04")})
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, d("2025-03-03"), assignments[0].Date)
	assert.Equal(t, d("2025-03-04"), assignments[1].Date)
}

func TestFindAvailableGuard_NoneLeft(t *testing.T) {
	ledger := []guard.Movement{movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 1), 1)}
	ledger = append(ledger, movement("d1", guard.BuildFreeDayDebit(d("2025-03-03"), week("2025-02-03")), 2))

	assert.Nil(t, guard.FindAvailableGuard(ledger))
}

func TestGuardDetails_Utilization(t *testing.T) {
	ledger := []guard.Movement{
		movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1),
		movement("d2", guard.BuildFreeDayDebit(d("2025-03-05"), week("2025-02-03")), 3),
		movement("d1", guard.BuildFreeDayDebit(d("2025-03-04"), week("2025-02-03")), 2),
	}

	details := guard.GuardDetails(ledger)

	require.Len(t, details, 1)
	assert.Equal(t, "G.03/02", details[0].Label)
	assert.True(t, decimal.RequireFromString("0.4").Equal(details[0].Utilization))
	require.Len(t, details[0].Debits, 2)
	assert.Equal(t, "d1", details[0].Debits[0].MovementID)
	assert.Equal(t, "D.1", details[0].Debits[0].Ordinal)
	assert.Equal(t, "D.2", details[0].Debits[1].Ordinal)
}

// =============================================================================
// COUNTERS
// =============================================================================

func TestCalculateCounters(t *testing.T) {
	cfg := guard.DefaultConfig()
	ledger := []guard.Movement{
		movement("c1", guard.BuildGuardCredit(d("2025-02-03"), 5), 1),
		movement("c2", guard.BuildGuardCredit(d("2025-02-10"), 5), 2),
		movement("d1", guard.BuildFreeDayDebit(d("2025-03-03"), week("2025-02-03")), 3),
	}
	other, err := guard.BuildOtherAdjustment(d("2025-05-01"), 1, "Holiday worked")
	require.NoError(t, err)
	ledger = append(ledger, movement("o1", other, 4))
	adjust, err := guard.BuildManualAdjustment(d("2025-05-02"), -2, "Correction")
	require.NoError(t, err)
	ledger = append(ledger, movement("a1", adjust, 5))

	plannedRef := map[string]any{guard.MetaGuardRef: "G.2025-06-04"}
	days := []guard.Day{
		{Date: d("2025-04-01"), Tags: []guard.Tag{{Type: guard.TagPersonalLeave}}},
		{Date: d("2025-04-02"), Tags: []guard.Tag{{Type: guard.TagVacation}}},
		{Date: d("2025-04-05"), Tags: []guard.Tag{{Type: guard.TagVacation}}}, // Saturday
		{Date: d("2024-12-30"), Tags: []guard.Tag{{Type: guard.TagVacation}}}, // previous year
		{Date: d("2025-06-04"), Tags: []guard.Tag{{Type: guard.TagGuardPlanned, Meta: plannedRef}}},
		{Date: d("2025-06-09"), Tags: []guard.Tag{{Type: guard.TagGuardPlanned, Meta: plannedRef}}},
	}

	c := guard.CalculateCounters(days, ledger, cfg, d("2025-06-01"))

	assert.Equal(t, guard.Counters{
		AccumulatedFree:        5 + 5 - 1 + 1 - 2,
		UsedFree:               1,
		PersonalLeaveRemaining: 5,
		VacationRemaining:      21,
		GuardsDone:             2,
		GuardsPlanned:          1,
	}, c)
}

func TestCalculateCounters_WeekendVacationCountedWhenConfigured(t *testing.T) {
	cfg := guard.DefaultConfig()
	cfg.ExcludeWeekendsFromVacation = false
	days := []guard.Day{{Date: d("2025-04-05"), Tags: []guard.Tag{{Type: guard.TagVacation}}}}

	c := guard.CalculateCounters(days, nil, cfg, d("2025-06-01"))
	assert.Equal(t, 21, c.VacationRemaining)
}

func TestCalculateCounters_ClampsAtZero(t *testing.T) {
	adjust, err := guard.BuildManualAdjustment(d("2025-05-02"), -3, "Correction")
	require.NoError(t, err)

	c := guard.CalculateCounters(nil, []guard.Movement{movement("a1", adjust, 1)}, guard.DefaultConfig(), d("2025-06-01"))
	assert.Equal(t, 0, c.AccumulatedFree)
}
