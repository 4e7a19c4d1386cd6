package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/guard-ledger/generic"
)

func TestWeekStart(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"2025-02-03", "2025-02-03"}, // Monday
		{"2025-02-05", "2025-02-03"},
		{"2025-02-09", "2025-02-03"}, // Sunday
		{"2025-02-10", "2025-02-10"},
		{"2025-01-01", "2024-12-30"}, // crosses a year
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			got := generic.MustParseDate(tt.date).WeekStart()
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := generic.ParseDate("03/02/2025")
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
	assert.True(t, generic.IsClientError(err))
}

func TestTimePoint_JSON(t *testing.T) {
	tp := generic.NewTimePoint(2025, time.February, 4)
	data, err := json.Marshal(tp)
	require.NoError(t, err)
	assert.Equal(t, `"2025-02-04"`, string(data))

	var back generic.TimePoint
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(tp))
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	// GIVEN: A wall clock frozen at one instant
	// WHEN: Asking for several timestamps
	// THEN: Each is strictly after the previous one

	frozen := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	clock := generic.NewClock(func() time.Time { return frozen })

	prev := clock.Next()
	for i := 0; i < 5; i++ {
		next := clock.Next()
		assert.True(t, next.After(prev))
		prev = next
	}
}

func TestClock_ObserveMovesFloor(t *testing.T) {
	frozen := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	clock := generic.NewClock(func() time.Time { return frozen })

	later := frozen.Add(time.Hour)
	clock.Observe(later)
	assert.True(t, clock.Next().After(later), "timestamps loaded from storage set the floor")
}

func TestYearBounds(t *testing.T) {
	start, end := generic.StartOfYear(2024), generic.EndOfYear(2024)

	assert.Equal(t, "2024-01-01", start.String())
	assert.Equal(t, "2024-12-31", end.String())
	assert.True(t, end.BeforeOrEqual(end))
	assert.True(t, start.BeforeOrEqual(end))
	assert.False(t, generic.MustParseDate("2025-01-01").BeforeOrEqual(end))
}
