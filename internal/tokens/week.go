package tokens

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Week is a Monday 00:00:00 to Sunday 23:59:59 window.
type Week struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the week, including the final
// sub-second of Sunday.
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.next())
}

func (w Week) next() time.Time {
	return w.Start.AddDate(0, 0, 7)
}

// WeekCalculator maps instants to the week they belong to in a fixed location.
type WeekCalculator struct {
	loc *time.Location
}

// NewWeekCalculator returns a calculator for loc; nil means UTC.
func NewWeekCalculator(loc *time.Location) WeekCalculator {
	if loc == nil {
		loc = time.UTC
	}
	return WeekCalculator{loc: loc}
}

// Location returns the calculator's time zone.
func (c WeekCalculator) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Window returns the week containing t. Sunday belongs to the week that
// started six days earlier.
func (c WeekCalculator) Window(t time.Time) Week {
	local := t.In(c.Location())
	// time.Weekday has Sunday = 0.
	offset := (int(local.Weekday()) + 6) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, c.Location())
	end := time.Date(start.Year(), start.Month(), start.Day()+6, 23, 59, 59, 0, c.Location())
	return Week{Start: start, End: end}
}

// DaysUntilRefresh returns the number of calendar days until the next
// Monday: 1 on Sunday, 7 on Monday.
func (c WeekCalculator) DaysUntilRefresh(t time.Time) int {
	wd := int(t.In(c.Location()).Weekday())
	if wd == 0 {
		return 1
	}
	return 8 - wd
}
