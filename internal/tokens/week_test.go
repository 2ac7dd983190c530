package tokens

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekCalculator_Window(t *testing.T) {
	calc := NewWeekCalculator(time.UTC)
	monday := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sundayEnd := time.Date(2025, 1, 12, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
	}{
		{"monday midnight", monday},
		{"wednesday", wed},
		{"saturday", time.Date(2025, 1, 11, 18, 30, 0, 0, time.UTC)},
		{"sunday morning", time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC)},
		{"last second of sunday", sundayEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := calc.Window(tt.at)
			assert.True(t, w.Start.Equal(monday), "start = %s", w.Start)
			assert.True(t, w.End.Equal(sundayEnd), "end = %s", w.End)
			assert.True(t, w.Contains(tt.at))
		})
	}
}

func TestWeekCalculator_WindowShape(t *testing.T) {
	calc := NewWeekCalculator(nil)
	at := time.Date(2024, 2, 29, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		w := calc.Window(at)
		assert.Equal(t, time.Monday, w.Start.Weekday())
		assert.Equal(t, time.Sunday, w.End.Weekday())
		assert.Equal(t, 0, w.Start.Hour()+w.Start.Minute()+w.Start.Second())
		assert.Equal(t, []int{23, 59, 59}, []int{w.End.Hour(), w.End.Minute(), w.End.Second()})
		assert.False(t, at.Before(w.Start))
		assert.False(t, at.After(w.End))
		at = at.Add(25 * time.Hour)
	}
}

func TestWeekCalculator_NextMondayStartsNewWeek(t *testing.T) {
	calc := NewWeekCalculator(time.UTC)
	w := calc.Window(time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC), w.Start)
	assert.False(t, calc.Window(wed).Contains(w.Start))
}

func TestWeekCalculator_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	calc := NewWeekCalculator(ny)

	// Monday 03:00 UTC is still Sunday evening in New York.
	w := calc.Window(time.Date(2025, 1, 13, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, ny), w.Start)
	assert.Equal(t, time.Date(2025, 1, 12, 23, 59, 59, 0, ny), w.End)
	assert.Equal(t, ny, calc.Location())
}

func TestWeekCalculator_DaysUntilRefresh(t *testing.T) {
	calc := NewWeekCalculator(time.UTC)
	assert.Equal(t, 7, calc.DaysUntilRefresh(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 5, calc.DaysUntilRefresh(wed))
	assert.Equal(t, 2, calc.DaysUntilRefresh(time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, calc.DaysUntilRefresh(time.Date(2025, 1, 12, 23, 0, 0, 0, time.UTC)))
}
