// Package guard implements compensatory leave accounting for rotating guard duty.
// It tags calendar days, credits completed guard weeks, allocates free days
// FIFO against those credits and folds everything into displayable counters.
package guard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/guard-ledger/generic"
)

// =============================================================================
// TAG TYPES - Closed enumeration of day states
// =============================================================================

type TagType string

const (
	TagGuardDone      TagType = "GUARD_DONE"
	TagGuardPlanned   TagType = "GUARD_PLANNED"
	TagFreeDay        TagType = "FREE_DAY"
	TagVacation       TagType = "VACATION"
	TagPersonalLeave  TagType = "PERSONAL_LEAVE"
	TagShiftMorning   TagType = "SHIFT_MORNING"
	TagShiftAfternoon TagType = "SHIFT_AFTERNOON"
	TagShiftNight     TagType = "SHIFT_NIGHT"
	TagTraining       TagType = "TRAINING"
	TagCourt          TagType = "COURT"
	TagSickLeave      TagType = "SICK_LEAVE"
	TagOther          TagType = "OTHER"
)

// tagOrder fixes the order tags are stored and listed in.
var tagOrder = []TagType{
	TagGuardDone, TagGuardPlanned, TagFreeDay, TagVacation, TagPersonalLeave,
	TagShiftMorning, TagShiftAfternoon, TagShiftNight, TagTraining, TagCourt,
	TagSickLeave, TagOther,
}

var tagRank = func() map[TagType]int {
	m := make(map[TagType]int, len(tagOrder))
	for i, t := range tagOrder {
		m[t] = i
	}
	return m
}()

// AllTagTypes returns every tag type in canonical order.
func AllTagTypes() []TagType {
	return append([]TagType(nil), tagOrder...)
}

// ParseTagType accepts the canonical name in any case.
func ParseTagType(s string) (TagType, error) {
	t := TagType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := tagRank[t]; !ok {
		return "", fmt.Errorf("%w: %q", generic.ErrUnknownTag, s)
	}
	return t, nil
}

func (t TagType) IsGuard() bool { return t == TagGuardDone || t == TagGuardPlanned }

// Meta keys written by the engine.
const (
	MetaGuardRef = "guardRef"
	MetaOrdinal  = "ordinal"
	MetaLabel    = "label"
	MetaAmount   = "amount"
)

// Tag is one state attached to a day.
type Tag struct {
	Type TagType        `json:"type"`
	Meta map[string]any `json:"meta,omitempty"`
}

// MetaString returns a string meta value, or "".
func (t Tag) MetaString(key string) string {
	s, _ := t.Meta[key].(string)
	return s
}

// MetaInt returns an integer meta value. JSON round trips turn ints into
// float64, so both are accepted.
func (t Tag) MetaInt(key string) (int, bool) {
	switch v := t.Meta[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// =============================================================================
// DAY - Tags attached to one calendar day of one profile
// =============================================================================

type Day struct {
	ProfileID generic.ProfileID `json:"profile_id"`
	Date      generic.TimePoint `json:"date"`
	Tags      []Tag             `json:"tags"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (d Day) IsEmpty() bool { return len(d.Tags) == 0 }

// Tag returns the tag of the given type, if present.
func (d Day) Tag(t TagType) (Tag, bool) {
	for _, tag := range d.Tags {
		if tag.Type == t {
			return tag, true
		}
	}
	return Tag{}, false
}

func (d Day) Has(t TagType) bool {
	_, ok := d.Tag(t)
	return ok
}

// TagTypes lists the day's tag types in canonical order.
func (d Day) TagTypes() []TagType {
	types := make([]TagType, len(d.Tags))
	for i, t := range d.Tags {
		types[i] = t.Type
	}
	return types
}

// withTag returns the tags with t replacing any tag of the same type.
func withTag(tags []Tag, t Tag) []Tag {
	out := make([]Tag, 0, len(tags)+1)
	for _, existing := range tags {
		if existing.Type != t.Type {
			out = append(out, existing)
		}
	}
	out = append(out, t)
	sortTags(out)
	return out
}

func withoutTag(tags []Tag, t TagType) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, existing := range tags {
		if existing.Type != t {
			out = append(out, existing)
		}
	}
	return out
}

func sortTags(tags []Tag) {
	sort.SliceStable(tags, func(i, j int) bool { return tagRank[tags[i].Type] < tagRank[tags[j].Type] })
}

// =============================================================================
// MOVEMENTS - Ledger rows
// =============================================================================

type MovementKind string

const (
	KindCredit MovementKind = "CREDIT"
	KindDebit  MovementKind = "DEBIT"
	KindAdjust MovementKind = "ADJUST"
)

type Category string

const (
	CategoryGuard   Category = "GUARD"
	CategoryFreeDay Category = "FREE_DAY"
	CategoryOther   Category = "OTHER"
	CategoryAdjust  Category = "ADJUST"
)

// Movement is a signed change to the free-day balance.
type Movement struct {
	ID        string            `json:"id"`
	ProfileID generic.ProfileID `json:"profile_id"`
	Date      generic.TimePoint `json:"date"`
	Kind      MovementKind      `json:"kind"`
	Category  Category          `json:"category"`
	Amount    int               `json:"amount"`
	SourceRef string            `json:"source_ref"`
	Note      string            `json:"note,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (m Movement) IsGuardCredit() bool {
	return m.Kind == KindCredit && m.Category == CategoryGuard
}

func (m Movement) IsFreeDayDebit() bool {
	return m.Kind == KindDebit && m.Category == CategoryFreeDay
}

// MovementInput is everything a caller decides about a movement; the ledger
// fills in ID, profile and CreatedAt.
type MovementInput struct {
	Date      generic.TimePoint
	Kind      MovementKind
	Category  Category
	Amount    int
	SourceRef string
	Note      string
}

// =============================================================================
// CONFIG - Entitlements
// =============================================================================

type Config struct {
	EntitlementPerGuard         int  `json:"entitlement_per_guard" toml:"entitlement_per_guard" yaml:"entitlement_per_guard"`
	PersonalLeaveAnnual         int  `json:"personal_leave_annual" toml:"personal_leave_annual" yaml:"personal_leave_annual"`
	VacationAnnual              int  `json:"vacation_annual" toml:"vacation_annual" yaml:"vacation_annual"`
	ExcludeWeekendsFromVacation bool `json:"exclude_weekends_from_vacation" toml:"exclude_weekends_from_vacation" yaml:"exclude_weekends_from_vacation"`
}

func DefaultConfig() Config {
	return Config{
		EntitlementPerGuard:         5,
		PersonalLeaveAnnual:         6,
		VacationAnnual:              22,
		ExcludeWeekendsFromVacation: true,
	}
}

func (c Config) Validate() error {
	if c.EntitlementPerGuard <= 0 {
		return fmt.Errorf("entitlement_per_guard must be positive, got %d", c.EntitlementPerGuard)
	}
	if c.PersonalLeaveAnnual < 0 || c.VacationAnnual < 0 {
		return fmt.Errorf("annual entitlements cannot be negative")
	}
	return nil
}
