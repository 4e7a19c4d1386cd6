package guard_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/guard-ledger/guard"
)

func TestConflict_Matrix(t *testing.T) {
	tests := []struct {
		name     string
		existing []guard.TagType
		add      guard.TagType
		blocked  bool
		blocking guard.TagType
	}{
		{"vacation after completed guard", []guard.TagType{guard.TagGuardDone}, guard.TagVacation, true, guard.TagGuardDone},
		{"vacation after planned guard", []guard.TagType{guard.TagGuardPlanned}, guard.TagVacation, true, guard.TagGuardPlanned},
		{"guard after vacation", []guard.TagType{guard.TagVacation}, guard.TagGuardDone, true, guard.TagVacation},
		{"guard after personal leave", []guard.TagType{guard.TagPersonalLeave}, guard.TagGuardPlanned, true, guard.TagPersonalLeave},
		{"guard after free day", []guard.TagType{guard.TagFreeDay}, guard.TagGuardDone, true, guard.TagFreeDay},
		{"free day on guard", []guard.TagType{guard.TagGuardDone}, guard.TagFreeDay, true, guard.TagGuardDone},
		{"free day on vacation", []guard.TagType{guard.TagVacation}, guard.TagFreeDay, true, guard.TagVacation},
		{"personal leave on guard", []guard.TagType{guard.TagGuardPlanned}, guard.TagPersonalLeave, true, guard.TagGuardPlanned},
		{"free day on personal leave", []guard.TagType{guard.TagPersonalLeave}, guard.TagFreeDay, false, ""},
		{"shift on guard", []guard.TagType{guard.TagGuardDone}, guard.TagShiftNight, false, ""},
		{"training on vacation", []guard.TagType{guard.TagVacation}, guard.TagTraining, false, ""},
		{"planned and done together", []guard.TagType{guard.TagGuardPlanned}, guard.TagGuardDone, false, ""},
		{"other on anything", []guard.TagType{guard.TagGuardDone, guard.TagShiftMorning}, guard.TagOther, false, ""},
		{"empty day", nil, guard.TagFreeDay, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := make([]guard.Tag, len(tt.existing))
			for i, typ := range tt.existing {
				tags[i] = guard.Tag{Type: typ}
			}

			blocking, reason, conflict := guard.Conflict(tags, tt.add)

			assert.Equal(t, tt.blocked, conflict)
			assert.Equal(t, tt.blocking, blocking)
			if tt.blocked {
				assert.Contains(t, reason, tt.blocking.DisplayName())
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestConflict_AgreesWithExcludes(t *testing.T) {
	types := guard.AllTagTypes()
	require.Len(t, types, 12)
	assert.Equal(t, guard.TagGuardDone, types[0])

	for _, add := range types {
		blockers := guard.Excludes(add)
		for _, existing := range types {
			_, _, conflict := guard.Conflict([]guard.Tag{{Type: existing}}, add)
			assert.Equal(t, slices.Contains(blockers, existing), conflict, "%s on %s", add, existing)
		}
	}
}

func TestExcludes_ReturnsCopy(t *testing.T) {
	got := guard.Excludes(guard.TagVacation)
	require.NotEmpty(t, got)
	got[0] = guard.TagTraining

	assert.NotContains(t, guard.Excludes(guard.TagVacation), guard.TagTraining)
}

func TestParseTagType(t *testing.T) {
	typ, err := guard.ParseTagType("free_day")
	assert.NoError(t, err)
	assert.Equal(t, guard.TagFreeDay, typ)

	_, err = guard.ParseTagType("HOLIDAY")
	assert.Error(t, err)
}
