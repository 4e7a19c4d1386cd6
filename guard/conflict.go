package guard

import (
	"fmt"
	"strings"
)

// =============================================================================
// CONFLICT MATRIX - Which tags cannot share a day
// =============================================================================

// exclusions maps a new tag type to the tag types that forbid it.
// Types missing from the table coexist with anything.
var exclusions = map[TagType][]TagType{
	TagGuardDone:     {TagVacation, TagPersonalLeave, TagFreeDay},
	TagGuardPlanned:  {TagVacation, TagPersonalLeave, TagFreeDay},
	TagVacation:      {TagGuardDone, TagGuardPlanned},
	TagFreeDay:       {TagGuardDone, TagGuardPlanned, TagVacation},
	TagPersonalLeave: {TagGuardDone, TagGuardPlanned},
}

var tagNames = map[TagType]string{
	TagGuardDone:      "completed guard",
	TagGuardPlanned:   "planned guard",
	TagFreeDay:        "free day",
	TagVacation:       "vacation",
	TagPersonalLeave:  "personal leave",
	TagShiftMorning:   "morning shift",
	TagShiftAfternoon: "afternoon shift",
	TagShiftNight:     "night shift",
	TagTraining:       "training",
	TagCourt:          "court",
	TagSickLeave:      "sick leave",
	TagOther:          "other",
}

// Conflict reports whether newType may join existing. When it may not, it
// returns the first blocking tag and a reason fit to show a user.
func Conflict(existing []Tag, newType TagType) (blocking TagType, reason string, conflict bool) {
	forbidden := exclusions[newType]
	for _, tag := range existing {
		for _, f := range forbidden {
			if tag.Type == f {
				return tag.Type, fmt.Sprintf("cannot add %s: day already has %s", tagNames[newType], tagNames[tag.Type]), true
			}
		}
	}
	return "", "", false
}

// Excludes returns the tag types that block newType.
func Excludes(newType TagType) []TagType {
	return append([]TagType(nil), exclusions[newType]...)
}

// DisplayName is the human name of a tag type.
func (t TagType) DisplayName() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return strings.ToLower(string(t))
}
