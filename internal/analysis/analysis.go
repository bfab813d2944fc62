// Package analysis aggregates clean incident tables into count series that
// downstream charts and maps consume.
package analysis

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// ErrUnknownFrequency is returned for a period frequency other than day, week,
// month or year.
var ErrUnknownFrequency = errors.New("unknown frequency")

// Frequency is the width of a PeriodCounts bucket.
type Frequency string

const (
	Day   Frequency = "day"
	Week  Frequency = "week"
	Month Frequency = "month"
	Year  Frequency = "year"
)

// ParseFrequency accepts a frequency name in any case.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Day, Week, Month, Year:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
}

// Start truncates ts to the start of its bucket. Weeks start on Monday.
func (f Frequency) Start(ts time.Time) time.Time {
	y, m, d := ts.Date()
	loc := ts.Location()
	switch f {
	case Week:
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

func (f Frequency) next(start time.Time) time.Time {
	switch f {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Filter selects the rows to aggregate.
type Filter struct {
	// DateColumn is the timestamp column bounded by Start and End.
	DateColumn string
	// Start and End bound DateColumn inclusively. A zero value leaves that
	// side open.
	Start time.Time
	End   time.Time
	// Column and Values restrict rows to those whose Column value is one of
	// Values, for example primary_type = HOMICIDE. An empty Column keeps all
	// rows.
	Column string
	Values []string
}

// rows returns the indexes of the rows of t selected by f, in table order.
// Rows with a null date never match.
func (f Filter) rows(t *domain.Table) ([]int, error) {
	dates, err := t.Column(f.DateColumn)
	if err != nil {
		return nil, err
	}
	if dates.Kind != domain.KindTimestamp {
		return nil, fmt.Errorf("column %q is %s, want timestamp", f.DateColumn, dates.Kind)
	}
	var values *domain.Column
	if f.Column != "" {
		if values, err = t.Column(f.Column); err != nil {
			return nil, err
		}
		if values.Kind != domain.KindString && values.Kind != domain.KindCategory {
			return nil, fmt.Errorf("column %q is %s, want string or category", f.Column, values.Kind)
		}
	}

	var idx []int
	for i := 0; i < t.Len(); i++ {
		if dates.IsNull(i) {
			continue
		}
		ts := dates.Times[i]
		if !f.Start.IsZero() && ts.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && ts.After(f.End) {
			continue
		}
		if values != nil && (values.IsNull(i) || !slices.Contains(f.Values, values.Strings[i])) {
			continue
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// PeriodCount is the number of matching rows in one period, and how many of
// them carry the flag.
type PeriodCount struct {
	Start   time.Time
	Count   int
	Flagged int
}

// PeriodSeries is a gap-free run of periods in ascending order.
type PeriodSeries []PeriodCount

func (s PeriodSeries) Header() []string { return []string{"period_start", "count", "flagged"} }

func (s PeriodSeries) Records() [][]string {
	out := make([][]string, len(s))
	for i, p := range s {
		out[i] = []string{p.Start.Format(time.DateOnly), fmt.Sprint(p.Count), fmt.Sprint(p.Flagged)}
	}
	return out
}

// PeriodCounts buckets the rows selected by f into periods of freq. flagCol
// names a boolean column (such as arrest) whose true rows are also counted;
// leave it empty to skip flag counting. Periods with no rows between the
// first and last populated one are included with zero counts.
func PeriodCounts(t *domain.Table, f Filter, freq Frequency, flagCol string) (PeriodSeries, error) {
	if _, err := ParseFrequency(string(freq)); err != nil {
		return nil, err
	}
	idx, err := f.rows(t)
	if err != nil {
		return nil, err
	}
	var flags *domain.Column
	if flagCol != "" {
		if flags, err = t.Column(flagCol); err != nil {
			return nil, err
		}
		if flags.Kind != domain.KindBool {
			return nil, fmt.Errorf("column %q is %s, want bool", flagCol, flags.Kind)
		}
	}
	if len(idx) == 0 {
		return PeriodSeries{}, nil
	}

	dates, _ := t.Column(f.DateColumn)
	type tally struct{ count, flagged int }
	buckets := make(map[time.Time]*tally)
	first, last := freq.Start(dates.Times[idx[0]]), freq.Start(dates.Times[idx[0]])
	for _, i := range idx {
		start := freq.Start(dates.Times[i])
		b, ok := buckets[start]
		if !ok {
			b = &tally{}
			buckets[start] = b
		}
		b.count++
		if flags != nil && !flags.IsNull(i) && flags.Bools[i] {
			b.flagged++
		}
		if start.Before(first) {
			first = start
		}
		if start.After(last) {
			last = start
		}
	}

	var series PeriodSeries
	for start := first; !start.After(last); start = freq.next(start) {
		p := PeriodCount{Start: start}
		if b, ok := buckets[start]; ok {
			p.Count, p.Flagged = b.count, b.flagged
		}
		series = append(series, p)
	}
	return series, nil
}

// GroupCount is the number of matching rows in one group.
type GroupCount struct {
	Group string
	Count int
}

// GroupSeries lists groups in report order.
type GroupSeries []GroupCount

func (s GroupSeries) Header() []string { return []string{"group", "count"} }

func (s GroupSeries) Records() [][]string {
	out := make([][]string, len(s))
	for i, g := range s {
		out[i] = []string{g.Group, fmt.Sprint(g.Count)}
	}
	return out
}

// GroupCounts counts the rows selected by f per value of groupCol. When groups
// is non-nil the result has exactly one entry per group in that order, with
// zero for groups that had no rows; rows in other groups are dropped. A nil
// groups reports every observed group in ascending order.
func GroupCounts(t *domain.Table, groupCol string, f Filter, groups []string) (GroupSeries, error) {
	idx, err := f.rows(t)
	if err != nil {
		return nil, err
	}
	col, err := t.Column(groupCol)
	if err != nil {
		return nil, err
	}
	if col.Kind != domain.KindString && col.Kind != domain.KindCategory {
		return nil, fmt.Errorf("column %q is %s, want string or category", groupCol, col.Kind)
	}

	counts := make(map[string]int)
	for _, i := range idx {
		if col.IsNull(i) {
			continue
		}
		counts[col.Strings[i]]++
	}

	if groups == nil {
		groups = make([]string, 0, len(counts))
		for g := range counts {
			groups = append(groups, g)
		}
		slices.Sort(groups)
	}
	series := make(GroupSeries, len(groups))
	for i, g := range groups {
		series[i] = GroupCount{Group: g, Count: counts[g]}
	}
	return series, nil
}

// Groups returns the distinct non-null values of col in t, in table order. It
// is used to take the group list from a boundary layer such as police beats.
func Groups(t *domain.Table, col string) ([]string, error) {
	c, err := t.Column(col)
	if err != nil {
		return nil, err
	}
	if c.Kind != domain.KindString && c.Kind != domain.KindCategory {
		return nil, fmt.Errorf("column %q is %s, want string or category", col, c.Kind)
	}
	seen := make(map[string]bool)
	out := []string{}
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) || seen[c.Strings[i]] {
			continue
		}
		seen[c.Strings[i]] = true
		out = append(out, c.Strings[i])
	}
	return out, nil
}
