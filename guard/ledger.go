/*
ledger.go - Movement log of free-day credits and debits

PURPOSE:
  Every change to the free-day balance is a Movement. Balances, guard
  accounts and counters are all folded from this log; nothing else stores
  a number that could drift from it.

CRITICAL INVARIANTS:
  1. APPEND-MOSTLY: movements are never edited. They are only hard-deleted
     as part of a rollback that also removes the tag that caused them.
  2. ORDER: CreatedAt is strictly increasing and is the canonical order.
     Load sorts by CreatedAt, never by Date; FIFO allocation depends on it.

CONSTRUCTORS:
  CreditGuardDuty  CREDIT/GUARD    +entitlement   source = guard account
  DebitFreeDay     DEBIT/FREE_DAY  -1             source = guard account
  AdjustOther      CREDIT|DEBIT/OTHER  ±n         source = concept label
  ManualAdjust     ADJUST/ADJUST   ±n             source = reason

SEE ALSO:
  - accounts.go: guard accounts derived from the log
  - counters.go: balance fold
*/
package guard

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/warp/guard-ledger/generic"
)

const (
	storeLedger    = "ledger"
	indexSourceRef = "source_ref"
)

// Ledger reads and writes movements through a RecordStore.
type Ledger struct {
	rs    generic.RecordStore
	clock *generic.Clock
	newID func() string
}

func NewLedger(rs generic.RecordStore, clock *generic.Clock) *Ledger {
	if clock == nil {
		clock = generic.NewClock(nil)
	}
	return &Ledger{rs: rs, clock: clock, newID: uuid.NewString}
}

// =============================================================================
// PURE CONSTRUCTORS
// =============================================================================

func BuildGuardCredit(weekStart generic.TimePoint, entitlement int) MovementInput {
	id := NewGuardAccountID(weekStart)
	return MovementInput{
		Date:      weekStart,
		Kind:      KindCredit,
		Category:  CategoryGuard,
		Amount:    entitlement,
		SourceRef: id.Ref(),
		Note:      "Guard week " + id.Label(),
	}
}

func BuildFreeDayDebit(date generic.TimePoint, account GuardAccountID) MovementInput {
	return MovementInput{
		Date:      date,
		Kind:      KindDebit,
		Category:  CategoryFreeDay,
		Amount:    -1,
		SourceRef: account.Ref(),
		Note:      "Free day from " + account.Label(),
	}
}

func BuildOtherAdjustment(date generic.TimePoint, amount int, concept string) (MovementInput, error) {
	if amount == 0 {
		return MovementInput{}, fmt.Errorf("%w: other adjustment of 0 days", generic.ErrInvalidAmount)
	}
	if concept == "" {
		return MovementInput{}, fmt.Errorf("%w: other adjustment needs a concept", generic.ErrInvalidAmount)
	}
	kind := KindCredit
	if amount < 0 {
		kind = KindDebit
	}
	return MovementInput{
		Date:      date,
		Kind:      kind,
		Category:  CategoryOther,
		Amount:    amount,
		SourceRef: concept,
		Note:      concept,
	}, nil
}

func BuildManualAdjustment(date generic.TimePoint, amount int, reason string) (MovementInput, error) {
	if amount == 0 {
		return MovementInput{}, fmt.Errorf("%w: manual adjustment of 0 days", generic.ErrInvalidAmount)
	}
	return MovementInput{
		Date:      date,
		Kind:      KindAdjust,
		Category:  CategoryAdjust,
		Amount:    amount,
		SourceRef: reason,
		Note:      reason,
	}, nil
}

// =============================================================================
// WRITES
// =============================================================================

// CreateMovement assigns an ID and CreatedAt, stores the movement and returns it.
func (l *Ledger) CreateMovement(ctx context.Context, profile generic.ProfileID, in MovementInput) (Movement, error) {
	if in.Date.IsZero() {
		return Movement{}, fmt.Errorf("%w: movement without a date", generic.ErrInvalidDate)
	}
	m := Movement{
		ID:        l.newID(),
		ProfileID: profile,
		Date:      in.Date,
		Kind:      in.Kind,
		Category:  in.Category,
		Amount:    in.Amount,
		SourceRef: in.SourceRef,
		Note:      in.Note,
		CreatedAt: l.clock.Next(),
	}
	rec, err := generic.NewRecord(m.ID, map[string]string{
		indexProfile:   string(profile),
		indexSourceRef: sourceIndex(profile, m.SourceRef),
	}, m)
	if err != nil {
		return Movement{}, err
	}
	if err := l.rs.Put(ctx, storeLedger, rec); err != nil {
		return Movement{}, fmt.Errorf("failed to append movement: %w", err)
	}
	return m, nil
}

func (l *Ledger) CreditGuardDuty(ctx context.Context, profile generic.ProfileID, weekStart generic.TimePoint, entitlement int) (Movement, error) {
	return l.CreateMovement(ctx, profile, BuildGuardCredit(weekStart, entitlement))
}

func (l *Ledger) DebitFreeDay(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, account GuardAccountID) (Movement, error) {
	return l.CreateMovement(ctx, profile, BuildFreeDayDebit(date, account))
}

func (l *Ledger) AdjustOther(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, amount int, concept string) (Movement, error) {
	in, err := BuildOtherAdjustment(date, amount, concept)
	if err != nil {
		return Movement{}, err
	}
	return l.CreateMovement(ctx, profile, in)
}

func (l *Ledger) ManualAdjust(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, amount int, reason string) (Movement, error) {
	in, err := BuildManualAdjustment(date, amount, reason)
	if err != nil {
		return Movement{}, err
	}
	return l.CreateMovement(ctx, profile, in)
}

// RemoveMovement hard-deletes a movement.
func (l *Ledger) RemoveMovement(ctx context.Context, profile generic.ProfileID, id string) error {
	m, err := l.Get(ctx, profile, id)
	if err != nil {
		return err
	}
	if err := l.rs.Remove(ctx, storeLedger, m.ID); err != nil {
		return fmt.Errorf("failed to remove movement %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one movement of the profile.
func (l *Ledger) Get(ctx context.Context, profile generic.ProfileID, id string) (Movement, error) {
	rec, err := l.rs.Get(ctx, storeLedger, id)
	if err != nil {
		return Movement{}, fmt.Errorf("failed to load movement %s: %w", id, err)
	}
	if rec == nil {
		return Movement{}, &generic.NotFoundError{Kind: "movement", Key: id}
	}
	var m Movement
	if err := rec.Decode(&m); err != nil {
		return Movement{}, fmt.Errorf("failed to decode movement %s: %w", id, err)
	}
	if m.ProfileID != profile {
		return Movement{}, &generic.NotFoundError{Kind: "movement", Key: id}
	}
	return m, nil
}

// Load returns every movement of the profile in CreatedAt order.
func (l *Ledger) Load(ctx context.Context, profile generic.ProfileID) ([]Movement, error) {
	recs, err := l.rs.GetAllByIndex(ctx, storeLedger, indexProfile, string(profile))
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return l.decodeSorted(recs)
}

// BySource returns the profile's movements with the given source reference.
func (l *Ledger) BySource(ctx context.Context, profile generic.ProfileID, sourceRef string) ([]Movement, error) {
	recs, err := l.rs.GetAllByIndex(ctx, storeLedger, indexSourceRef, sourceIndex(profile, sourceRef))
	if err != nil {
		return nil, fmt.Errorf("failed to load movements for %s: %w", sourceRef, err)
	}
	return l.decodeSorted(recs)
}

func (l *Ledger) decodeSorted(recs []generic.Record) ([]Movement, error) {
	movements := make([]Movement, 0, len(recs))
	for _, rec := range recs {
		var m Movement
		if err := rec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to decode movement %s: %w", rec.Key, err)
		}
		l.clock.Observe(m.CreatedAt)
		movements = append(movements, m)
	}
	SortMovements(movements)
	return movements, nil
}

// SortMovements orders movements by CreatedAt, ties broken by ID.
func SortMovements(ms []Movement) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func sourceIndex(profile generic.ProfileID, ref string) string {
	return string(profile) + "|" + ref
}
