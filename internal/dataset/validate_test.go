package dataset

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

func cleanCrime(t *testing.T) *domain.Table {
	t.Helper()
	clean, err := Crime.Transform(rawFromCSV(t, crimeExport))
	require.NoError(t, err)
	return clean
}

func phaseByName(t *testing.T, phases []*Phase, name string) *Phase {
	t.Helper()
	for _, p := range phases {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no phase %q", name)
	return nil
}

func TestValidate_CleanSnapshotPasses(t *testing.T) {
	for _, p := range Validate(Crime, cleanCrime(t)) {
		assert.True(t, p.Passed(), "%s: %v", p.Name, p.Errors)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		phase  string
		mutate func(t *testing.T, tbl *domain.Table) *domain.Table
	}{
		{
			name:  "duplicate keys",
			phase: "Record keys",
			mutate: func(t *testing.T, tbl *domain.Table) *domain.Table {
				doubled, err := domain.Concat(tbl, tbl)
				require.NoError(t, err)
				return doubled
			},
		},
		{
			name:  "point outside the city",
			phase: "Geometry within city",
			mutate: func(t *testing.T, tbl *domain.Table) *domain.Table {
				column(t, tbl, GeometryColumn).Geoms[1] = orb.Point{-122.42, 37.77}
				return tbl
			},
		},
		{
			name:  "hour out of step with date",
			phase: "Calendar features",
			mutate: func(t *testing.T, tbl *domain.Table) *domain.Table {
				column(t, tbl, domain.HourSuffix).Strings[1] = "05"
				return tbl
			},
		},
		{
			name:  "missing schema column",
			phase: "Schema",
			mutate: func(t *testing.T, tbl *domain.Table) *domain.Table {
				require.NoError(t, tbl.Drop("primary_type"))
				return tbl
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phases := Validate(Crime, tt.mutate(t, cleanCrime(t)))
			p := phaseByName(t, phases, tt.phase)
			assert.False(t, p.Passed())
			assert.NotEmpty(t, p.Errors)
		})
	}
}

func TestValidate_CapsDisplayedErrors(t *testing.T) {
	tbl := cleanCrime(t)
	for range 5 {
		var err error
		tbl, err = domain.Concat(tbl, tbl)
		require.NoError(t, err)
	}

	p := phaseByName(t, Validate(Crime, tbl), "Record keys")
	assert.Equal(t, 62, p.Failures)
	assert.Len(t, p.Errors, maxPhaseErrors)
}
