/*
engine.go - Entry point for every guard-ledger operation

PURPOSE:
  The Engine is what the API and CLI call. Each mutating operation follows
  the same three steps:

    1. VALIDATE  read days + ledger, run the conflict matrix, the capacity
                 check or the integrity check entirely in memory
    2. COMMIT    perform every write inside one TxStore.WithTx unit of work
    3. REPORT    emit the audit entry, bump metrics, log

  A business error from step 1 means nothing was written. Step 2 either
  lands completely or not at all, so a guard week can never end up with
  its days tagged but its credit missing.

CONCURRENCY:
  Operations are serialized by a mutex: one runs to completion before the
  next starts, which is what keeps validation and commit consistent
  without per-record locking.

SEE ALSO:
  - rollback.go: RemoveAllDayEvents, RemoveMovement, Reindex
  - accounts.go: FIFO allocation used by RequestFreeDays
  - counters.go: CalculateCounters used by Counters and Verify
*/
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/guard-ledger/generic"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	mu    sync.Mutex
	store generic.TxStore
	cfg   Config
	clock *generic.Clock
	now   func() time.Time
	audit generic.AuditSink
	log   zerolog.Logger
}

type Option func(*Engine)

func WithAuditSink(s generic.AuditSink) Option {
	return func(e *Engine) { e.audit = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithNow replaces the wall clock (tests).
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store generic.TxStore, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		audit: generic.NopAuditSink{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = generic.NewClock(e.now)
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// unit is one unit of work: stores bound to the transaction plus what it wrote.
type unit struct {
	days    *DayStore
	ledger  *Ledger
	created []Movement
	removed int
}

func (u *unit) create(ctx context.Context, profile generic.ProfileID, in MovementInput) (Movement, error) {
	m, err := u.ledger.CreateMovement(ctx, profile, in)
	if err != nil {
		return Movement{}, err
	}
	u.created = append(u.created, m)
	return m, nil
}

func (u *unit) removeMovement(ctx context.Context, profile generic.ProfileID, id string) error {
	if err := u.ledger.RemoveMovement(ctx, profile, id); err != nil {
		return err
	}
	u.removed++
	return nil
}

func (e *Engine) commit(ctx context.Context, fn func(u *unit) error) (*unit, error) {
	var done *unit
	err := e.store.WithTx(ctx, func(rs generic.RecordStore) error {
		u := &unit{days: NewDayStore(rs, e.now), ledger: NewLedger(rs, e.clock)}
		if err := fn(u); err != nil {
			return err
		}
		done = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, m := range done.created {
		countCreated(m)
	}
	movementsRemoved.Add(float64(done.removed))
	return done, nil
}

func (e *Engine) daysStore() *DayStore { return NewDayStore(e.store, e.now) }
func (e *Engine) ledgerStore() *Ledger { return NewLedger(e.store, e.clock) }

func (e *Engine) emit(ctx context.Context, profile generic.ProfileID, action generic.AuditAction, detail map[string]any) {
	e.audit.Record(ctx, generic.AuditEntry{
		ProfileID: profile,
		Action:    action,
		Detail:    detail,
		Timestamp: e.now().UTC(),
	})
}

// finish records metrics and logs business rejections.
func (e *Engine) finish(op string, profile generic.ProfileID, err error) {
	observe(op, err)
	switch {
	case err == nil:
	case generic.IsNotFound(err):
		e.log.Warn().Str("op", op).Str("profile", string(profile)).Err(err).Msg("nothing to do")
	case generic.IsBusinessError(err):
		e.log.Info().Str("op", op).Str("profile", string(profile)).Err(err).Msg("rejected")
	default:
		e.log.Error().Str("op", op).Str("profile", string(profile)).Err(err).Msg("failed")
	}
}

// =============================================================================
// READS
// =============================================================================

func (e *Engine) Day(ctx context.Context, profile generic.ProfileID, date generic.TimePoint) (Day, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daysStore().GetDay(ctx, profile, date)
}

// Days returns non-empty days in [from, to]; zero bounds mean unbounded.
func (e *Engine) Days(ctx context.Context, profile generic.ProfileID, from, to generic.TimePoint) ([]Day, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if from.IsZero() && to.IsZero() {
		return e.daysStore().ListDays(ctx, profile)
	}
	if to.IsZero() {
		to = generic.NewTimePoint(9999, time.December, 31)
	}
	return e.daysStore().DaysInRange(ctx, profile, from, to)
}

func (e *Engine) Ledger(ctx context.Context, profile generic.ProfileID) ([]Movement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledgerStore().Load(ctx, profile)
}

func (e *Engine) FindAvailableGuard(ctx context.Context, profile generic.ProfileID) (*GuardAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return nil, err
	}
	return FindAvailableGuard(ledger), nil
}

func (e *Engine) GuardDetails(ctx context.Context, profile generic.ProfileID) ([]GuardDetail, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return nil, err
	}
	return GuardDetails(ledger), nil
}

func (e *Engine) Counters(ctx context.Context, profile generic.ProfileID, asOf generic.TimePoint) (Counters, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters(ctx, profile, asOf)
}

func (e *Engine) counters(ctx context.Context, profile generic.ProfileID, asOf generic.TimePoint) (Counters, error) {
	year := asOf.Year()
	days, err := e.daysStore().DaysInRange(ctx, profile, generic.StartOfYear(year), generic.EndOfYear(year))
	if err != nil {
		return Counters{}, err
	}
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return Counters{}, err
	}
	return CalculateCounters(days, ledger, e.cfg, asOf), nil
}

// Verify recomputes the counters from source data and compares them with
// what the caller is currently displaying.
func (e *Engine) Verify(ctx context.Context, profile generic.ProfileID, displayed Counters, asOf generic.TimePoint) (Counters, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fresh, err := e.counters(ctx, profile, asOf)
	if err != nil {
		return Counters{}, false, err
	}
	ok := fresh.Equal(displayed)
	if !ok {
		e.log.Warn().Str("profile", string(profile)).
			Interface("displayed", displayed).
			Interface("recomputed", fresh).
			Msg("counter drift detected")
	}
	return fresh, ok, nil
}

// =============================================================================
// TAGS
// =============================================================================

// isLinked reports whether the tag has ledger movements hanging off it.
func isLinked(tag Tag) bool {
	switch {
	case tag.Type.IsGuard(), tag.Type == TagFreeDay:
		return tag.MetaString(MetaGuardRef) != ""
	case tag.Type == TagOther:
		return hasDayEffect(tag)
	}
	return false
}

func hasDayEffect(tag Tag) bool {
	n, ok := tag.MetaInt(MetaAmount)
	return ok && n != 0 && tag.MetaString(MetaLabel) != ""
}

// carriesLedgerMeta reports whether an incoming tag claims a ledger link it
// could only have been given by the engine itself.
func carriesLedgerMeta(tag Tag) bool {
	switch {
	case tag.Type.IsGuard(), tag.Type == TagFreeDay:
		_, ref := tag.Meta[MetaGuardRef]
		_, ord := tag.Meta[MetaOrdinal]
		return ref || ord
	case tag.Type == TagOther:
		return hasDayEffect(tag)
	}
	return false
}

// UpsertTag attaches a tag to a day. Tags created by guard weeks, free-day
// requests or OTHER adjustments carry ledger links and cannot be overwritten
// this way; remove them first.
func (e *Engine) UpsertTag(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, tag Tag) (day Day, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("upsert_tag", profile, err) }()

	if _, err := ParseTagType(string(tag.Type)); err != nil {
		return Day{}, err
	}
	if carriesLedgerMeta(tag) {
		return Day{}, &generic.ConflictError{
			Date:     date,
			Tag:      string(tag.Type),
			Existing: string(tag.Type),
			Reason:   fmt.Sprintf("%s ledger links are written by guard-week, free-day and OTHER operations only", tag.Type.DisplayName()),
		}
	}
	current, err := e.daysStore().GetDay(ctx, profile, date)
	if err != nil {
		return Day{}, err
	}
	if existing, ok := current.Tag(tag.Type); ok && isLinked(existing) {
		return current, &generic.ConflictError{
			Date:     date,
			Tag:      string(tag.Type),
			Existing: string(existing.Type),
			Reason:   fmt.Sprintf("%s on %s is linked to the ledger; remove it first", tag.Type.DisplayName(), date),
		}
	}
	if blocking, reason, conflict := Conflict(current.Tags, tag.Type); conflict {
		return current, &generic.ConflictError{Date: date, Tag: string(tag.Type), Existing: string(blocking), Reason: reason}
	}

	_, err = e.commit(ctx, func(u *unit) error {
		day, err = u.days.UpsertTag(ctx, profile, date, tag)
		return err
	})
	if err != nil {
		return Day{}, err
	}
	e.emit(ctx, profile, generic.AuditTagUpserted, map[string]any{"date": date.String(), "type": string(tag.Type)})
	return day, nil
}

// =============================================================================
// GUARD WEEKS
// =============================================================================

// GuardWeekResult describes a marked guard week.
type GuardWeekResult struct {
	Account GuardAccountID
	Days    []generic.TimePoint
	Credit  *Movement
}

// MarkGuardWeek tags the seven days starting at weekStart. A completed week
// (planned=false) also credits EntitlementPerGuard free days.
func (e *Engine) MarkGuardWeek(ctx context.Context, profile generic.ProfileID, weekStart generic.TimePoint, planned bool) (res GuardWeekResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("mark_guard_week", profile, err) }()
	return e.markWeek(ctx, profile, weekStart, planned, false)
}

// CompleteGuardWeek turns a planned guard week into a completed, credited one.
func (e *Engine) CompleteGuardWeek(ctx context.Context, profile generic.ProfileID, weekStart generic.TimePoint) (res GuardWeekResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("complete_guard_week", profile, err) }()
	return e.markWeek(ctx, profile, weekStart, false, true)
}

func (e *Engine) markWeek(ctx context.Context, profile generic.ProfileID, weekStart generic.TimePoint, planned, requirePlanned bool) (GuardWeekResult, error) {
	id := NewGuardAccountID(weekStart)
	tagType := TagGuardDone
	if planned {
		tagType = TagGuardPlanned
	}

	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return GuardWeekResult{}, err
	}
	if !planned {
		if _, credited := FindAccount(ledger, id); credited {
			return GuardWeekResult{}, &generic.ConflictError{
				Date: weekStart, Tag: string(tagType), Existing: string(TagGuardDone),
				Reason: fmt.Sprintf("guard week %s is already credited", id.Label()),
			}
		}
	}

	sawPlanned := false
	for _, date := range id.Days() {
		day, err := e.daysStore().GetDay(ctx, profile, date)
		if err != nil {
			return GuardWeekResult{}, err
		}
		for _, t := range day.Tags {
			if !t.Type.IsGuard() {
				continue
			}
			other := accountForTag(date, t)
			if !other.Equal(id) {
				return GuardWeekResult{}, &generic.ConflictError{
					Date: date, Tag: string(tagType), Existing: string(t.Type),
					Reason: fmt.Sprintf("%s already belongs to guard week %s", date, other.Label()),
				}
			}
			if t.Type == TagGuardPlanned {
				sawPlanned = true
			}
			if planned && t.Type == TagGuardDone {
				return GuardWeekResult{}, &generic.ConflictError{
					Date: date, Tag: string(tagType), Existing: string(t.Type),
					Reason: fmt.Sprintf("guard week %s is already completed", id.Label()),
				}
			}
		}
		if blocking, reason, conflict := Conflict(day.Tags, tagType); conflict {
			return GuardWeekResult{}, &generic.ConflictError{Date: date, Tag: string(tagType), Existing: string(blocking), Reason: reason}
		}
	}
	if requirePlanned && !sawPlanned {
		return GuardWeekResult{}, &generic.NotFoundError{Kind: "planned guard week", Key: id.Label()}
	}

	res := GuardWeekResult{Account: id, Days: id.Days()}
	_, err = e.commit(ctx, func(u *unit) error {
		for _, date := range res.Days {
			if !planned {
				if _, err := u.days.RemoveTag(ctx, profile, date, TagGuardPlanned); err != nil && !generic.IsNotFound(err) {
					return err
				}
			}
			tag := Tag{Type: tagType, Meta: map[string]any{MetaGuardRef: id.Ref()}}
			if _, err := u.days.UpsertTag(ctx, profile, date, tag); err != nil {
				return err
			}
		}
		if planned {
			return nil
		}
		credit, err := u.create(ctx, profile, BuildGuardCredit(weekStart, e.cfg.EntitlementPerGuard))
		if err != nil {
			return err
		}
		res.Credit = &credit
		return nil
	})
	if err != nil {
		return GuardWeekResult{}, err
	}

	action := generic.AuditGuardWeekMarked
	if requirePlanned {
		action = generic.AuditGuardCompleted
	}
	e.emit(ctx, profile, action, map[string]any{"guard": id.Label(), "planned": planned})
	e.log.Info().Str("profile", string(profile)).Str("guard", id.Label()).Bool("planned", planned).Msg("guard week marked")
	return res, nil
}

// =============================================================================
// FREE DAYS
// =============================================================================

// validateFreeDays checks every requested date against the matrix and
// existing free days before anything is allocated.
func (e *Engine) validateFreeDays(ctx context.Context, profile generic.ProfileID, dates []generic.TimePoint) error {
	for _, date := range dates {
		day, err := e.daysStore().GetDay(ctx, profile, date)
		if err != nil {
			return err
		}
		if day.Has(TagFreeDay) {
			return &generic.ConflictError{
				Date: date, Tag: string(TagFreeDay), Existing: string(TagFreeDay),
				Reason: fmt.Sprintf("%s is already a free day", date),
			}
		}
		if blocking, reason, conflict := Conflict(day.Tags, TagFreeDay); conflict {
			return &generic.ConflictError{Date: date, Tag: string(TagFreeDay), Existing: string(blocking), Reason: reason}
		}
	}
	return nil
}

// RequestFreeDays books every date as a free day, draining guard accounts
// oldest first. All or nothing: any conflict or shortfall leaves state untouched.
func (e *Engine) RequestFreeDays(ctx context.Context, profile generic.ProfileID, dates []generic.TimePoint) (assignments []Assignment, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("request_free_days", profile, err) }()

	queue := normalizeDates(dates)
	if len(queue) == 0 {
		return nil, fmt.Errorf("%w: no dates requested", generic.ErrInvalidAmount)
	}
	if err := e.validateFreeDays(ctx, profile, queue); err != nil {
		return nil, err
	}
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return nil, err
	}
	assignments, err = Allocate(ledger, queue)
	if err != nil {
		return nil, err
	}

	if _, err := e.commit(ctx, func(u *unit) error {
		return e.bookFreeDays(ctx, u, profile, assignments)
	}); err != nil {
		return nil, err
	}

	e.emit(ctx, profile, generic.AuditFreeDaysBooked, map[string]any{"count": len(assignments), "assignments": describeAssignments(assignments)})
	return assignments, nil
}

// RequestFreeDay books a single date against the oldest open guard account.
func (e *Engine) RequestFreeDay(ctx context.Context, profile generic.ProfileID, date generic.TimePoint) (a Assignment, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("request_free_day", profile, err) }()

	if err := e.validateFreeDays(ctx, profile, []generic.TimePoint{date}); err != nil {
		return Assignment{}, err
	}
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return Assignment{}, err
	}
	acc := FindAvailableGuard(ledger)
	if acc == nil {
		return Assignment{}, &generic.CapacityError{Requested: 1, Shortfall: 1}
	}
	a = Assignment{Date: date, Account: acc.ID, Ordinal: acc.Used + 1}

	if _, err := e.commit(ctx, func(u *unit) error {
		return e.bookFreeDays(ctx, u, profile, []Assignment{a})
	}); err != nil {
		return Assignment{}, err
	}

	e.emit(ctx, profile, generic.AuditFreeDaysBooked, map[string]any{"count": 1, "assignments": describeAssignments([]Assignment{a})})
	return a, nil
}

// bookFreeDays writes one FREE_DAY tag and one debit per assignment, in order.
func (e *Engine) bookFreeDays(ctx context.Context, u *unit, profile generic.ProfileID, assignments []Assignment) error {
	for _, a := range assignments {
		tag := Tag{Type: TagFreeDay, Meta: map[string]any{
			MetaGuardRef: a.Account.Ref(),
			MetaOrdinal:  a.OrdinalLabel(),
		}}
		if _, err := u.days.UpsertTag(ctx, profile, a.Date, tag); err != nil {
			return err
		}
		if _, err := u.create(ctx, profile, BuildFreeDayDebit(a.Date, a.Account)); err != nil {
			return err
		}
	}
	return nil
}

func describeAssignments(as []Assignment) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = fmt.Sprintf("%s %s %s", a.Date, a.Account.Label(), a.OrdinalLabel())
	}
	return out
}

// =============================================================================
// OTHER AND MANUAL ADJUSTMENTS
// =============================================================================

// AddOtherDays records an OTHER day with a day-count effect (e.g. +1 for a
// public holiday worked) as a tag plus a matching OTHER movement.
func (e *Engine) AddOtherDays(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, label string, amount int) (m Movement, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("add_other_days", profile, err) }()

	in, err := BuildOtherAdjustment(date, amount, label)
	if err != nil {
		return Movement{}, err
	}
	day, err := e.daysStore().GetDay(ctx, profile, date)
	if err != nil {
		return Movement{}, err
	}
	if existing, ok := day.Tag(TagOther); ok && hasDayEffect(existing) {
		return Movement{}, &generic.ConflictError{
			Date: date, Tag: string(TagOther), Existing: string(TagOther),
			Reason: fmt.Sprintf("%s already has %q; remove it first", date, existing.MetaString(MetaLabel)),
		}
	}

	_, err = e.commit(ctx, func(u *unit) error {
		tag := Tag{Type: TagOther, Meta: map[string]any{MetaLabel: label, MetaAmount: amount}}
		if _, err := u.days.UpsertTag(ctx, profile, date, tag); err != nil {
			return err
		}
		m, err = u.create(ctx, profile, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	e.emit(ctx, profile, generic.AuditOtherRecorded, map[string]any{"date": date.String(), "label": label, "amount": amount})
	return m, nil
}

// ManualAdjust records an ADJUST movement with no day tag.
func (e *Engine) ManualAdjust(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, amount int, reason string) (m Movement, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("manual_adjust", profile, err) }()

	in, err := BuildManualAdjustment(date, amount, reason)
	if err != nil {
		return Movement{}, err
	}
	_, err = e.commit(ctx, func(u *unit) error {
		m, err = u.create(ctx, profile, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	e.emit(ctx, profile, generic.AuditManualAdjust, map[string]any{"date": date.String(), "amount": amount, "reason": reason})
	return m, nil
}
