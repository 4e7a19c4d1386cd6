package guard

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/guard-ledger/generic"
)

// ReconcileReport is the outcome of one integrity sweep over a profile.
type ReconcileReport struct {
	ProfileID generic.ProfileID `json:"profile_id"`
	Accounts  int               `json:"accounts"`
	Rewritten int               `json:"rewritten"`
	// OrphanDebits are free-day debits whose guard credit no longer exists.
	OrphanDebits []string `json:"orphan_debits,omitempty"`
}

// Profiles lists every profile with at least one day or movement.
func (e *Engine) Profiles(ctx context.Context) ([]generic.ProfileID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[generic.ProfileID]struct{})
	for _, name := range []string{storeDays, storeLedger} {
		recs, err := e.store.GetAll(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", name, err)
		}
		for _, rec := range recs {
			if p := rec.Index[indexProfile]; p != "" {
				seen[generic.ProfileID(p)] = struct{}{}
			}
		}
	}

	profiles := make([]generic.ProfileID, 0, len(seen))
	for p := range seen {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i] < profiles[j] })
	return profiles, nil
}

// Reconcile reindexes every guard account of the profile in one unit of work
// and reports debits that point at a missing credit.
func (e *Engine) Reconcile(ctx context.Context, profile generic.ProfileID) (rep ReconcileReport, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() { e.finish("reconcile", profile, err) }()

	ledger, err := e.ledgerStore().Load(ctx, profile)
	if err != nil {
		return ReconcileReport{}, err
	}

	rep = ReconcileReport{ProfileID: profile}
	refs := make(map[string]GuardAccountID)
	for _, acc := range Accounts(ledger) {
		refs[acc.ID.Ref()] = acc.ID
	}
	rep.Accounts = len(refs)
	for _, m := range ledger {
		if m.IsFreeDayDebit() {
			if _, ok := refs[m.SourceRef]; !ok {
				rep.OrphanDebits = append(rep.OrphanDebits, m.ID)
			}
		}
	}

	_, err = e.commit(ctx, func(u *unit) error {
		for _, acc := range Accounts(ledger) {
			n, err := e.reindex(ctx, u, profile, acc.ID)
			if err != nil {
				return err
			}
			rep.Rewritten += n
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	if len(rep.OrphanDebits) > 0 {
		e.log.Warn().Str("profile", string(profile)).Strs("movements", rep.OrphanDebits).Msg("free-day debits without a guard credit")
	}
	if rep.Rewritten > 0 {
		e.emit(ctx, profile, generic.AuditReindexed, map[string]any{"rewritten": rep.Rewritten, "accounts": rep.Accounts})
	}
	return rep, nil
}
