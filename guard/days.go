/*
days.go - Day store: which tags sit on which calendar day

PURPOSE:
  Holds, per profile and date, the set of tags on that day. This is the only
  code that writes the "days" store.

INVARIANTS:
  1. At most one tag of each type per day (re-adding replaces Meta)
  2. UpsertTag never writes a tag the conflict matrix forbids
  3. A day without tags is deleted, and GetDay on a missing day returns an
     empty Day, so "deleted" and "empty" read the same

SEE ALSO:
  - conflict.go: the exclusion matrix consulted by UpsertTag
  - rollback.go: removes tags together with their ledger movements
*/
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/guard-ledger/generic"
)

const (
	storeDays    = "days"
	indexProfile = "profile"
)

// DayStore reads and writes day records through a RecordStore.
type DayStore struct {
	rs  generic.RecordStore
	now func() time.Time
}

func NewDayStore(rs generic.RecordStore, now func() time.Time) *DayStore {
	if now == nil {
		now = time.Now
	}
	return &DayStore{rs: rs, now: now}
}

func dayKey(profile generic.ProfileID, date generic.TimePoint) string {
	return string(profile) + "/" + date.String()
}

// GetDay returns the day, or an empty Day if nothing is stored for it.
func (s *DayStore) GetDay(ctx context.Context, profile generic.ProfileID, date generic.TimePoint) (Day, error) {
	rec, err := s.rs.Get(ctx, storeDays, dayKey(profile, date))
	if err != nil {
		return Day{}, fmt.Errorf("failed to load day %s: %w", date, err)
	}
	if rec == nil {
		return Day{ProfileID: profile, Date: date}, nil
	}
	var d Day
	if err := rec.Decode(&d); err != nil {
		return Day{}, fmt.Errorf("failed to decode day %s: %w", date, err)
	}
	return d, nil
}

// UpsertTag adds tag to the day, replacing any tag of the same type.
// Returns *generic.ConflictError without writing if the matrix forbids it.
func (s *DayStore) UpsertTag(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, tag Tag) (Day, error) {
	day, err := s.GetDay(ctx, profile, date)
	if err != nil {
		return Day{}, err
	}
	if blocking, reason, conflict := Conflict(day.Tags, tag.Type); conflict {
		return day, &generic.ConflictError{
			Date:     date,
			Tag:      string(tag.Type),
			Existing: string(blocking),
			Reason:   reason,
		}
	}
	day.Tags = withTag(day.Tags, tag)
	return s.save(ctx, day)
}

// rewriteTag replaces a tag without consulting the conflict matrix. Only used
// to update metadata of a tag that is already on the day.
func (s *DayStore) rewriteTag(ctx context.Context, day Day, tag Tag) error {
	day.Tags = withTag(day.Tags, tag)
	_, err := s.save(ctx, day)
	return err
}

// RemoveTag removes one tag type from the day.
func (s *DayStore) RemoveTag(ctx context.Context, profile generic.ProfileID, date generic.TimePoint, t TagType) (Day, error) {
	day, err := s.GetDay(ctx, profile, date)
	if err != nil {
		return Day{}, err
	}
	if !day.Has(t) {
		return day, &generic.NotFoundError{Kind: "tag", Key: fmt.Sprintf("%s@%s", t, date)}
	}
	day.Tags = withoutTag(day.Tags, t)
	return s.save(ctx, day)
}

// RemoveAllTags clears the day.
func (s *DayStore) RemoveAllTags(ctx context.Context, profile generic.ProfileID, date generic.TimePoint) error {
	day, err := s.GetDay(ctx, profile, date)
	if err != nil {
		return err
	}
	if day.IsEmpty() {
		return &generic.NotFoundError{Kind: "day", Key: date.String()}
	}
	return s.rs.Remove(ctx, storeDays, dayKey(profile, date))
}

// ListDays returns every non-empty day of the profile, ordered by date.
func (s *DayStore) ListDays(ctx context.Context, profile generic.ProfileID) ([]Day, error) {
	recs, err := s.rs.GetAllByIndex(ctx, storeDays, indexProfile, string(profile))
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	days := make([]Day, 0, len(recs))
	for _, rec := range recs {
		var d Day
		if err := rec.Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to decode day %s: %w", rec.Key, err)
		}
		if !d.IsEmpty() {
			days = append(days, d)
		}
	}
	// Keys are profile/YYYY-MM-DD so key order is date order.
	return days, nil
}

// DaysInRange returns the non-empty days in [from, to].
func (s *DayStore) DaysInRange(ctx context.Context, profile generic.ProfileID, from, to generic.TimePoint) ([]Day, error) {
	all, err := s.ListDays(ctx, profile)
	if err != nil {
		return nil, err
	}
	var result []Day
	for _, d := range all {
		if !d.Date.Before(from) && d.Date.BeforeOrEqual(to) {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *DayStore) save(ctx context.Context, day Day) (Day, error) {
	key := dayKey(day.ProfileID, day.Date)
	day.UpdatedAt = s.now().UTC()
	if day.IsEmpty() {
		return day, s.rs.Remove(ctx, storeDays, key)
	}
	rec, err := generic.NewRecord(key, map[string]string{indexProfile: string(day.ProfileID)}, day)
	if err != nil {
		return day, err
	}
	if err := s.rs.Put(ctx, storeDays, rec); err != nil {
		return day, fmt.Errorf("failed to save day %s: %w", day.Date, err)
	}
	return day, nil
}
