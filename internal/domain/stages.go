package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/paulmach/orb"
)

// FallbackTimeLayouts are tried, in order, for cells the primary layout of
// ParseTimestamps cannot read. The first entry is the Socrata floating
// timestamp format returned by the resource API.
var FallbackTimeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006-01-02",
}

// NormalizeColumnName lower-cases a source column name and joins its words
// with underscores: "Community Area" -> "community_area".
func NormalizeColumnName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// NormalizeColumnNames renames every column to lower_snake_case.
func NormalizeColumnNames() Stage {
	return NewStage("normalize_column_names", func(t *Table) error {
		return t.Rename(NormalizeColumnName)
	})
}

// RequireColumns fails when any named column is absent.
func RequireColumns(names ...string) Stage {
	return NewStage("require_columns", func(t *Table) error {
		return Require(t, names...)
	})
}

// DropColumns removes known-redundant columns. Naming a column the table does
// not have is an error, and no column is removed in that case.
func DropColumns(names ...string) Stage {
	return NewStage("drop_columns", func(t *Table) error {
		return t.Drop(names...)
	})
}

// ParseTimestamps converts string columns to timestamps using layout, falling
// back to FallbackTimeLayouts cell by cell. Columns that are already
// timestamps are left as they are. Times carry no zone and are stored as UTC.
func ParseTimestamps(layout string, cols ...string) Stage {
	return NewStage("parse_timestamps", func(t *Table) error {
		for _, name := range cols {
			src, err := t.Column(name)
			if err != nil {
				return err
			}
			if src.Kind == KindTimestamp {
				continue
			}
			out := NewColumn(name, KindTimestamp, src.Len())
			for i, raw := range src.Strings {
				if !src.Valid[i] {
					continue
				}
				ts, err := ParseTime(layout, raw)
				if err != nil {
					return fmt.Errorf("column %q row %d: %w", name, i, err)
				}
				out.Times[i] = ts
				out.Valid[i] = true
			}
			if err := t.Set(out); err != nil {
				return err
			}
		}
		return nil
	})
}

// ParseTime reads s with layout, then with each of FallbackTimeLayouts.
func ParseTime(layout, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if layout != "" {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	for _, l := range FallbackTimeLayouts {
		if ts, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ZeroPadCodes normalizes integer-valued codes the source delivers as numbers
// (district, ward, zip code) into zero-padded unordered categories. A width of
// 0 leaves the digits unpadded.
func ZeroPadCodes(width int, cols ...string) Stage {
	return NewStage("zero_pad_codes", func(t *Table) error {
		for _, name := range cols {
			src, err := t.Column(name)
			if err != nil {
				return err
			}
			if src.Kind == KindCategory {
				continue
			}
			ints, err := asInts(src)
			if err != nil {
				return err
			}
			values := make([]string, src.Len())
			for i, v := range ints.Ints {
				if ints.Valid[i] {
					values[i] = pad(int(v), width)
				}
			}
			if err := t.Set(NewCategoryColumn(name, values, nil, false)); err != nil {
				return err
			}
		}
		return nil
	})
}

// MapBoolean turns a yes/no or free-text column into a strict boolean: a cell
// is true exactly when its value is in trueValues. Null cells become false.
// Applying it to a column that is already boolean does nothing.
func MapBoolean(col string, trueValues ...string) Stage {
	truthy := make(map[string]bool, len(trueValues))
	for _, v := range trueValues {
		truthy[v] = true
	}
	return NewStage("map_boolean", func(t *Table) error {
		src, err := t.Column(col)
		if err != nil {
			return err
		}
		if src.Kind == KindBool {
			return nil
		}
		if src.Kind != KindString && src.Kind != KindCategory {
			return fmt.Errorf("column %q is %s, cannot map to bool", col, src.Kind)
		}
		out := NewColumn(col, KindBool, src.Len())
		for i, v := range src.Strings {
			out.Bools[i] = src.Valid[i] && truthy[v]
			out.Valid[i] = true
		}
		return t.Set(out)
	})
}

// Categorize marks string columns as unordered categories.
func Categorize(cols ...string) Stage {
	return NewStage("categorize", func(t *Table) error {
		for _, name := range cols {
			src, err := t.Column(name)
			if err != nil {
				return err
			}
			if src.Kind == KindCategory {
				continue
			}
			values, err := asStrings(src)
			if err != nil {
				return err
			}
			if err := t.Set(NewCategoryColumn(name, values, nil, false)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ObservedOrder makes col an ordered category whose domain is the observed
// values sorted ascending. Integer columns sort numerically.
func ObservedOrder(col string) Stage {
	return NewStage("observed_order", func(t *Table) error {
		src, err := t.Column(col)
		if err != nil {
			return err
		}
		values, err := asStrings(src)
		if err != nil {
			return err
		}
		c := NewCategoryColumn(col, values, nil, true)
		sortNumericAware(c.Categories)
		return t.Set(c)
	})
}

// CalendarFeatures derives the hour, weekday, day-of-year, week-of-year and
// month features of tsCol.
func CalendarFeatures(tsCol, label string) Stage {
	return NewStage("calendar_features", func(t *Table) error {
		for _, feature := range []func(*Table, string, string) error{
			HourFeature,
			WeekdayFeature,
			DayOfYearFeature,
			WeekOfYearFeature,
			MonthFeature,
		} {
			if err := feature(t, tsCol, label); err != nil {
				return err
			}
		}
		return nil
	})
}

// YearFeatureStage derives the observed-year feature of tsCol.
func YearFeatureStage(tsCol, label string) Stage {
	return NewStage("year_feature", func(t *Table) error {
		return YearFeature(t, tsCol, label)
	})
}

// CoerceCoordinates parses string columns as float64. A cell that is empty
// or not a finite number (such as "N/A") becomes null instead of failing the
// stage.
func CoerceCoordinates(cols ...string) Stage {
	return NewStage("coerce_coordinates", func(t *Table) error {
		for _, name := range cols {
			src, err := t.Column(name)
			if err != nil {
				return err
			}
			if src.Kind == KindFloat {
				continue
			}
			out := NewColumn(name, KindFloat, src.Len())
			for i := range out.Floats {
				v, ok := coordinate(src, i)
				if !ok || math.IsInf(v, 0) {
					continue
				}
				out.Floats[i] = v
				out.Valid[i] = true
			}
			if err := t.Set(out); err != nil {
				return err
			}
		}
		return nil
	})
}

// CoerceInt parses string columns as nullable int64.
func CoerceInt(cols ...string) Stage {
	return NewStage("coerce_int", func(t *Table) error {
		for _, name := range cols {
			src, err := t.Column(name)
			if err != nil {
				return err
			}
			out, err := asInts(src)
			if err != nil {
				return err
			}
			if err := t.Set(out); err != nil {
				return err
			}
		}
		return nil
	})
}

// PointGeometry builds a point column from longitude and latitude columns. A
// row with either coordinate missing or unreadable gets a null geometry.
func PointGeometry(lonCol, latCol, out string) Stage {
	return NewStage("point_geometry", func(t *Table) error {
		lon, err := t.Column(lonCol)
		if err != nil {
			return err
		}
		lat, err := t.Column(latCol)
		if err != nil {
			return err
		}
		geom := NewColumn(out, KindGeometry, t.Len())
		for i := range geom.Geoms {
			x, okX := coordinate(lon, i)
			y, okY := coordinate(lat, i)
			if !okX || !okY {
				continue
			}
			geom.Geoms[i] = orb.Point{x, y}
			geom.Valid[i] = true
		}
		return t.Set(geom)
	})
}

func coordinate(c *Column, i int) (float64, bool) {
	if !c.Valid[i] {
		return 0, false
	}
	switch c.Kind {
	case KindFloat:
		return c.Floats[i], !math.IsNaN(c.Floats[i])
	case KindString:
		v, err := strconv.ParseFloat(strings.TrimSpace(c.Strings[i]), 64)
		if err != nil || math.IsNaN(v) {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// asInts reads a string or int column as nullable int64. Integral floats such
// as "12.0" are accepted because CSV exports of nullable integer columns
// often render them that way.
func asInts(src *Column) (*Column, error) {
	if src.Kind == KindInt {
		return src, nil
	}
	if src.Kind != KindString {
		return nil, fmt.Errorf("column %q is %s, not an integer source", src.Name, src.Kind)
	}
	out := NewColumn(src.Name, KindInt, src.Len())
	for i, raw := range src.Strings {
		if !src.Valid[i] {
			continue
		}
		s := strings.TrimSpace(raw)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out.Ints[i] = n
			out.Valid[i] = true
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("column %q row %d: %q is not an integer", src.Name, i, raw)
		}
		out.Ints[i] = int64(f)
		out.Valid[i] = true
	}
	return out, nil
}

// asStrings renders a string, category or int column as strings, with nulls
// as "".
func asStrings(src *Column) ([]string, error) {
	values := make([]string, src.Len())
	switch src.Kind {
	case KindString, KindCategory:
		for i, v := range src.Strings {
			if src.Valid[i] {
				values[i] = v
			}
		}
	case KindInt:
		for i, v := range src.Ints {
			if src.Valid[i] {
				values[i] = strconv.FormatInt(v, 10)
			}
		}
	default:
		return nil, fmt.Errorf("column %q is %s, cannot categorize", src.Name, src.Kind)
	}
	return values, nil
}
