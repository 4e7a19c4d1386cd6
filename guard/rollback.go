/*
rollback.go - Undoing tags together with the ledger rows they caused

PURPOSE:
  Removing a guard week, a free day or an OTHER day must also remove the
  movements it produced, and removing a free day must renumber the debits
  left on its guard account. Everything here works in two phases:

    plan   walk the day's tags against the loaded ledger, collect what to
           delete and which accounts to reindex, fail on integrity
    apply  one unit of work: delete movements, strip tags, clear days,
           reindex accounts

  An IntegrityError from the plan phase means nothing was touched.

REINDEX:
  After a debit is removed the account's remaining debits are renumbered
  D.1..D.n in CreatedAt order and each FREE_DAY tag's ordinal is rewritten:

    before:  02-04 D.1   02-05 D.2   02-06 D.3
    remove 02-05
    after:   02-04 D.1   02-06 D.2

SEE ALSO:
  - engine.go: unit of work and reporting helpers
  - accounts.go: DebitsFor, used by the integrity check
*/
package guard

import (
	"context"
	"fmt"

	"github.com/warp/guard-ledger/generic"
)

// =============================================================================
// PLAN
// =============================================================================

type tagRemoval struct {
	date  generic.TimePoint
	typ   TagType
	match func(Tag) bool // nil matches any tag of typ
}

type rollbackPlan struct {
	removals  []tagRemoval
	clear     []generic.TimePoint
	movements []string
	reindex   []GuardAccountID
	seen      map[string]bool
}

func newRollbackPlan() *rollbackPlan {
	return &rollbackPlan{seen: make(map[string]bool)}
}

func (p *rollbackPlan) deleteMovement(m Movement) {
	if p.seen[m.ID] {
		return
	}
	p.seen[m.ID] = true
	p.movements = append(p.movements, m.ID)
}

func (p *rollbackPlan) reindexAccount(id GuardAccountID) {
	for _, existing := range p.reindex {
		if existing.Equal(id) {
			return
		}
	}
	p.reindex = append(p.reindex, id)
}

// planTag adds what removing tag from date entails.
func planTag(p *rollbackPlan, ledger []Movement, date generic.TimePoint, tag Tag) error {
	switch {
	case tag.Type.IsGuard():
		return planGuardRemoval(p, ledger, accountForTag(date, tag))
	case tag.Type == TagFreeDay:
		planFreeDayRemoval(p, ledger, date, tag)
	case tag.Type == TagOther:
		planOtherRemoval(p, ledger, date, tag)
	}
	return nil
}

// planGuardRemoval removes a whole guard week: the guard tags on its seven
// days and its credit. Refused while free days are still booked against it.
func planGuardRemoval(p *rollbackPlan, ledger []Movement, id GuardAccountID) error {
	if debits := DebitsFor(ledger, id); len(debits) > 0 {
		return &generic.IntegrityError{
			Ref:        id.Label(),
			Dependents: len(debits),
			Reason:     fmt.Sprintf("guard week %s still has %d free days booked; remove them first", id.Label(), len(debits)),
		}
	}
	belongs := func(date generic.TimePoint) func(Tag) bool {
		return func(t Tag) bool { return accountForTag(date, t).Equal(id) }
	}
	for _, date := range id.Days() {
		p.removals = append(p.removals,
			tagRemoval{date: date, typ: TagGuardDone, match: belongs(date)},
			tagRemoval{date: date, typ: TagGuardPlanned, match: belongs(date)},
		)
	}
	for _, m := range ledger {
		if m.IsGuardCredit() && m.SourceRef == id.Ref() {
			p.deleteMovement(m)
		}
	}
	return nil
}

func planFreeDayRemoval(p *rollbackPlan, ledger []Movement, date generic.TimePoint, tag Tag) {
	ref := tag.MetaString(MetaGuardRef)
	for _, m := range ledger {
		if !m.IsFreeDayDebit() || !m.Date.Equal(date) {
			continue
		}
		if ref != "" && m.SourceRef != ref {
			continue
		}
		p.deleteMovement(m)
		if id, err := ParseGuardAccountID(m.SourceRef); err == nil {
			p.reindexAccount(id)
		}
	}
}

func planOtherRemoval(p *rollbackPlan, ledger []Movement, date generic.TimePoint, tag Tag) {
	if !hasDayEffect(tag) {
		return
	}
	label := tag.MetaString(MetaLabel)
	amount, _ := tag.MetaInt(MetaAmount)
	for _, m := range ledger {
		if m.Category == CategoryOther && m.Date.Equal(date) && m.SourceRef == label && m.Amount == amount {
			p.deleteMovement(m)
			return
		}
	}
}

// =============================================================================
// APPLY
// =============================================================================

// RollbackResult summarizes what a rollback removed.
type RollbackResult struct {
	Date             generic.TimePoint `json:"date"`
	RemovedTags      []TagType         `json:"removed_tags"`
	RemovedMovements int               `json:"removed_movements"`
	Reindexed        int               `json:"reindexed"`
}

func (e *Engine) apply(ctx context.Context, u *unit, profile generic.ProfileID, p *rollbackPlan) (int, error) {
	for _, id := range p.movements {
		if err := u.removeMovement(ctx, profile, id); err != nil {
			return 0, err
		}
	}
	for _, r := range p.removals {
		day, err := u.days.GetDay(ctx, profile, r.date)
		if err != nil {
			return 0, err
		}
		tag, ok := day.Tag(r.typ)
		if !ok || (r.match != nil && !r.match(tag)) {
			continue
		}
		if _, err := u.days.RemoveTag(ctx, profile, r.date, r.typ); err != nil {
			return 0, err
		}
	}
	for _, date := range p.clear {
		if err := u.days.RemoveAllTags(ctx, profile, date); err != nil && !generic.IsNotFound(err) {
			return 0, err
		}
	}
	rewritten := 0
	for _, id := range p.reindex {
		n, err := e.reindex(ctx, u, profile, id)
		if err != nil {
			return 0, err
		}
		rewritten += n
	}
	return rewritten, nil
}

// reindex renumbers the free-day tags of one account to match the CreatedAt
// order of its remaining debits. Returns how many tags were rewritten.
func (e *Engine) reindex(ctx context.Context, u *unit, profile generic.ProfileID, id GuardAccountID) (int, error) {
	movements, err := u.ledger.BySource(ctx, profile, id.Ref())
	if err != nil {
		return 0, err
	}
	rewritten := 0
	n := 0
	for _, m := range movements {
		if !m.IsFreeDayDebit() {
			continue
		}
		n++
		want := OrdinalLabel(n)
		day, err := u.days.GetDay(ctx, profile, m.Date)
		if err != nil {
			return 0, err
		}
		tag, ok := day.Tag(TagFreeDay)
		if !ok {
			e.log.Warn().Str("profile", string(profile)).Str("guard", id.Label()).
				Str("date", m.Date.String()).Msg("debit without a free-day tag")
			continue
		}
		if tag.MetaString(MetaOrdinal) == want && tag.MetaString(MetaGuardRef) == id.Ref() {
			continue
		}
		meta := make(map[string]any, len(tag.Meta)+2)
		for k, v := range tag.Meta {
			meta[k] = v
		}
		meta[MetaGuardRef] = id.Ref()
		meta[MetaOrdinal] = want
		if err := u.days.rewriteTag(ctx, day, Tag{Type: TagFreeDay, Meta: meta}); err != nil {
			return 0, err
		}
		rewritten++
	}
	ordinalsRewritten.Add(float64(rewritten))
	return rewritten, nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// RemoveTag removes one tag from a day. Tags tied to the ledger take their
// movements with them; a guard tag takes its whole week.
func (e *Engine) RemoveTag(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, t TagType) (res RollbackResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("remove_tag", profile, err) }()

	day, err := e.daysStore().GetDay(ctx, profile, date)
	if err != nil {
		return RollbackResult{}, err
	}
	tag, ok := day.Tag(t)
	if !ok {
		return RollbackResult{}, &generic.NotFoundError{Kind: "tag", Key: fmt.Sprintf("%s@%s", t, date)}
	}
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return RollbackResult{}, err
	}

	p := newRollbackPlan()
	if err := planTag(p, ledger, date, tag); err != nil {
		return RollbackResult{}, err
	}
	p.removals = append(p.removals, tagRemoval{date: date, typ: t})

	res = RollbackResult{Date: date, RemovedTags: []TagType{t}}
	u, err := e.commit(ctx, func(u *unit) error {
		n, err := e.apply(ctx, u, profile, p)
		res.Reindexed = n
		return err
	})
	if err != nil {
		return RollbackResult{}, err
	}
	res.RemovedMovements = u.removed

	e.emit(ctx, profile, generic.AuditTagRemoved, map[string]any{
		"date": date.String(), "type": string(t),
		"movements_removed": res.RemovedMovements, "reindexed": res.Reindexed,
	})
	return res, nil
}

// RemoveAllDayEvents clears every tag on a day and rolls back each tag's
// ledger effect in one unit of work. An empty day is a logged no-op
// reported as NotFound.
func (e *Engine) RemoveAllDayEvents(ctx context.Context, profile generic.ProfileID, date generic.TimePoint) (res RollbackResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("remove_all_day_events", profile, err) }()

	day, err := e.daysStore().GetDay(ctx, profile, date)
	if err != nil {
		return RollbackResult{}, err
	}
	if day.IsEmpty() {
		return RollbackResult{}, &generic.NotFoundError{Kind: "day", Key: date.String()}
	}
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return RollbackResult{}, err
	}

	p := newRollbackPlan()
	for _, tag := range day.Tags {
		if err := planTag(p, ledger, date, tag); err != nil {
			return RollbackResult{}, err
		}
	}
	p.clear = append(p.clear, date)

	res = RollbackResult{Date: date, RemovedTags: day.TagTypes()}
	u, err := e.commit(ctx, func(u *unit) error {
		n, err := e.apply(ctx, u, profile, p)
		res.Reindexed = n
		return err
	})
	if err != nil {
		return RollbackResult{}, err
	}
	res.RemovedMovements = u.removed

	e.emit(ctx, profile, generic.AuditDayCleared, map[string]any{
		"date": date.String(), "tags": res.RemovedTags,
		"movements_removed": res.RemovedMovements, "reindexed": res.Reindexed,
	})
	e.log.Info().Str("profile", string(profile)).Str("date", date.String()).
		Int("movements_removed", res.RemovedMovements).Msg("day cleared")
	return res, nil
}

// RemoveMovement deletes one movement by id together with the tag it
// belongs to. Removing a guard credit removes its week.
func (e *Engine) RemoveMovement(ctx context.Context, profile generic.ProfileID, id string) (res RollbackResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("remove_movement", profile, err) }()

	m, err := e.ledgerStore().Get(ctx, profile, id)
	if err != nil {
		return RollbackResult{}, err
	}
	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return RollbackResult{}, err
	}

	res = RollbackResult{Date: m.Date}
	p := newRollbackPlan()
	switch {
	case m.IsGuardCredit():
		account, perr := ParseGuardAccountID(m.SourceRef)
		if perr != nil {
			account = NewGuardAccountID(m.Date)
		}
		if err := planGuardRemoval(p, ledger, account); err != nil {
			return RollbackResult{}, err
		}
		p.deleteMovement(m)
		res.RemovedTags = []TagType{TagGuardDone}
	case m.IsFreeDayDebit():
		p.deleteMovement(m)
		p.removals = append(p.removals, tagRemoval{date: m.Date, typ: TagFreeDay, match: func(t Tag) bool {
			ref := t.MetaString(MetaGuardRef)
			return ref == "" || ref == m.SourceRef
		}})
		if account, perr := ParseGuardAccountID(m.SourceRef); perr == nil {
			p.reindexAccount(account)
		}
		res.RemovedTags = []TagType{TagFreeDay}
	case m.Category == CategoryOther:
		p.deleteMovement(m)
		p.removals = append(p.removals, tagRemoval{date: m.Date, typ: TagOther, match: func(t Tag) bool {
			amount, _ := t.MetaInt(MetaAmount)
			return t.MetaString(MetaLabel) == m.SourceRef && amount == m.Amount
		}})
		res.RemovedTags = []TagType{TagOther}
	default:
		p.deleteMovement(m)
	}

	u, err := e.commit(ctx, func(u *unit) error {
		n, err := e.apply(ctx, u, profile, p)
		res.Reindexed = n
		return err
	})
	if err != nil {
		return RollbackResult{}, err
	}
	res.RemovedMovements = u.removed

	e.emit(ctx, profile, generic.AuditMovementRemoved, map[string]any{
		"movement": id, "kind": string(m.Kind), "category": string(m.Category),
		"movements_removed": res.RemovedMovements, "reindexed": res.Reindexed,
	})
	return res, nil
}

// Reindex renumbers the free days of one guard account. Rollbacks call it
// automatically; this entry point repairs data written by older versions.
func (e *Engine) Reindex(ctx context.Context, profile generic.ProfileID, account GuardAccountID) (n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("reindex", profile, err) }()

	_, err = e.commit(ctx, func(u *unit) error {
		n, err = e.reindex(ctx, u, profile, account)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.emit(ctx, profile, generic.AuditReindexed, map[string]any{"guard": account.Label(), "rewritten": n})
	}
	return n, nil
}
