package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Calendar feature column suffixes. A label passed to a feature function is
// prepended verbatim, so label "updated_" yields "updated_hour".
const (
	HourSuffix       = "hour"
	WeekdaySuffix    = "weekday"
	DayOfYearSuffix  = "day_of_year"
	WeekOfYearSuffix = "week_of_year"
	MonthSuffix      = "month"
	YearSuffix       = "year"
)

// WeekdayLabels is the fixed Monday-first weekday domain.
var WeekdayLabels = []string{"MON", "TUE", "WED", "THUR", "FRI", "SAT", "SUN"}

var (
	hourDomain      = numberedDomain(0, 23, 2)
	dayOfYearDomain = numberedDomain(1, 366, 0)
	weekDomain      = numberedDomain(1, 53, 0)
	monthDomain     = numberedDomain(1, 12, 2)
)

// HourDomain returns the 24 zero-padded hour labels, 00 through 23.
func HourDomain() []string { return append([]string(nil), hourDomain...) }

// MonthDomain returns the 12 zero-padded month labels, 01 through 12.
func MonthDomain() []string { return append([]string(nil), monthDomain...) }

// HourFeature adds an ordered category of the zero-padded hour of day.
func HourFeature(t *Table, tsCol, label string) error {
	return addCalendarFeature(t, tsCol, label+HourSuffix, hourDomain, func(ts time.Time) string {
		return pad(ts.Hour(), 2)
	})
}

// WeekdayFeature adds an ordered category of the weekday, MON through SUN.
func WeekdayFeature(t *Table, tsCol, label string) error {
	return addCalendarFeature(t, tsCol, label+WeekdaySuffix, WeekdayLabels, func(ts time.Time) string {
		return WeekdayLabels[isoWeekday(ts)]
	})
}

// DayOfYearFeature adds an ordered category of the day of year, 1 through 366.
func DayOfYearFeature(t *Table, tsCol, label string) error {
	return addCalendarFeature(t, tsCol, label+DayOfYearSuffix, dayOfYearDomain, func(ts time.Time) string {
		return strconv.Itoa(ts.YearDay())
	})
}

// WeekOfYearFeature adds an ordered category of the ISO week number, 1 through 53.
func WeekOfYearFeature(t *Table, tsCol, label string) error {
	return addCalendarFeature(t, tsCol, label+WeekOfYearSuffix, weekDomain, func(ts time.Time) string {
		_, week := ts.ISOWeek()
		return strconv.Itoa(week)
	})
}

// MonthFeature adds an ordered category of the zero-padded month, 01 through 12.
func MonthFeature(t *Table, tsCol, label string) error {
	return addCalendarFeature(t, tsCol, label+MonthSuffix, monthDomain, func(ts time.Time) string {
		return pad(int(ts.Month()), 2)
	})
}

// YearFeature adds an ordered category of the year. Unlike the other calendar
// features its domain is the observed years, ascending.
func YearFeature(t *Table, tsCol, label string) error {
	return addCalendarFeature(t, tsCol, label+YearSuffix, nil, func(ts time.Time) string {
		return strconv.Itoa(ts.Year())
	})
}

// isoWeekday maps a time to 0 (Monday) through 6 (Sunday).
func isoWeekday(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}

func addCalendarFeature(t *Table, tsCol, name string, domain []string, label func(time.Time) string) error {
	src, err := t.Column(tsCol)
	if err != nil {
		return err
	}
	if src.Kind != KindTimestamp {
		return fmt.Errorf("feature %s: column %q is %s, not timestamp", name, tsCol, src.Kind)
	}

	values := make([]string, src.Len())
	for i, ts := range src.Times {
		if src.Valid[i] {
			values[i] = label(ts)
		}
	}

	var categories []string
	if domain != nil {
		categories = append([]string(nil), domain...)
	}
	return t.Set(NewCategoryColumn(name, values, categories, true))
}

func numberedDomain(from, to, width int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, pad(i, width))
	}
	return out
}

func pad(n, width int) string {
	if width <= 0 {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%0*d", width, n)
}
