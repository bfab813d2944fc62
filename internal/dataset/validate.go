package dataset

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// CityBound is a loose bounding box around the city. Incident points outside
// it are reported by Validate.
var CityBound = orb.Bound{Min: orb.Point{-88.0, 41.6}, Max: orb.Point{-87.5, 42.1}}

// maxPhaseErrors caps how many problems a phase keeps for display.
const maxPhaseErrors = 20

// Phase is the outcome of one integrity check over a clean table.
type Phase struct {
	Name   string
	Errors []string
	// Failures counts every problem found, including those past the
	// display cap.
	Failures int
}

func (p *Phase) errorf(format string, args ...any) {
	p.Failures++
	if len(p.Errors) < maxPhaseErrors {
		p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
	}
}

// Passed reports whether the phase found no problems.
func (p *Phase) Passed() bool { return p.Failures == 0 }

// Validate runs the integrity checks for a clean snapshot of ds.
func Validate(ds Dataset, t *domain.Table) []*Phase {
	return []*Phase{
		validateSchema(ds, t),
		validateKeys(ds, t),
		validateGeometry(t),
		validateCalendar(t),
	}
}

func validateSchema(ds Dataset, t *domain.Table) *Phase {
	p := &Phase{Name: "Schema"}
	if err := ds.Transformer.Schema().Validate(t); err != nil {
		p.errorf("%v", err)
	}
	return p
}

// validateKeys checks that the key column is fully populated and unique,
// which merging by key relies on.
func validateKeys(ds Dataset, t *domain.Table) *Phase {
	p := &Phase{Name: "Record keys"}
	if ds.KeyColumn == "" {
		return p
	}
	c, err := t.Column(ds.KeyColumn)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	seen := make(map[any]int, c.Len())
	for i := 0; i < c.Len(); i++ {
		v := c.Value(i)
		if v == nil {
			p.errorf("row %d: null %s", i, ds.KeyColumn)
			continue
		}
		if first, dup := seen[v]; dup {
			p.errorf("row %d: %s %v duplicates row %d", i, ds.KeyColumn, v, first)
			continue
		}
		seen[v] = i
	}
	return p
}

func validateGeometry(t *domain.Table) *Phase {
	p := &Phase{Name: "Geometry within city"}
	c, err := t.Column(GeometryColumn)
	if err != nil {
		return p
	}
	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		if !CityBound.Intersects(c.Geoms[i].Bound()) {
			p.errorf("row %d: %s %v is outside the city", i, c.Geoms[i].GeoJSONType(), c.Geoms[i].Bound().Center())
		}
	}
	return p
}

// validateCalendar checks derived features against the timestamp they were
// derived from.
func validateCalendar(t *domain.Table) *Phase {
	p := &Phase{Name: "Calendar features"}
	date, err := t.Column("date")
	if err != nil || date.Kind != domain.KindTimestamp {
		return p
	}
	hour, hasHour := optionalColumn(t, domain.HourSuffix)
	month, hasMonth := optionalColumn(t, domain.MonthSuffix)
	for i := 0; i < date.Len(); i++ {
		if date.IsNull(i) {
			continue
		}
		ts := date.Times[i]
		if hasHour && hour.Value(i) != fmt.Sprintf("%02d", ts.Hour()) {
			p.errorf("row %d: hour %v does not match date %s", i, hour.Value(i), ts)
		}
		if hasMonth && month.Value(i) != fmt.Sprintf("%02d", int(ts.Month())) {
			p.errorf("row %d: month %v does not match date %s", i, month.Value(i), ts)
		}
	}
	return p
}

func optionalColumn(t *domain.Table, name string) (*domain.Column, bool) {
	c, err := t.Column(name)
	return c, err == nil
}
