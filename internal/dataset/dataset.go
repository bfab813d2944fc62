// Package dataset defines the city open datasets the pipeline knows how to
// download, clean and refresh.
package dataset

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// SourceTimeLayout is the timestamp format of the portal's CSV exports.
const SourceTimeLayout = "01/02/2006 03:04:05 PM"

// GeometryColumn holds the point geometry built from longitude and latitude.
const GeometryColumn = "geometry"

// Dataset describes one source: where its full export and incremental API
// live, and how its raw rows become clean rows.
type Dataset struct {
	Name string

	RawFileName   string
	CleanFileName string
	DownloadURL   string
	Format        resource.Format

	// APIBase is the resource endpoint for paginated queries. Empty for
	// datasets that are only available as a full export.
	APIBase       string
	CountColumn   string
	UpdatedColumn string
	KeyColumn     string

	Transformer *domain.Transformer
}

// Incremental reports whether the dataset can be refreshed through the API.
func (d Dataset) Incremental() bool {
	return d.APIBase != "" && d.UpdatedColumn != "" && d.KeyColumn != ""
}

// Transform cleans raw rows.
func (d Dataset) Transform(raw *domain.Table) (*domain.Table, error) {
	out, err := d.Transformer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", d.Name, err)
	}
	return out, nil
}

var registry = map[string]Dataset{}

func register(d Dataset) {
	if _, dup := registry[d.Name]; dup {
		panic("dataset: duplicate registration of " + d.Name)
	}
	registry[d.Name] = d
}

// Lookup returns the dataset called name.
func Lookup(name string) (Dataset, error) {
	d, ok := registry[name]
	if !ok {
		return Dataset{}, fmt.Errorf("unknown dataset %q (known: %v)", name, Names())
	}
	return d, nil
}

// Names lists the registered datasets in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// calendarSchema is the feature columns every incident dataset derives from
// its date.
func calendarSchema(label string) domain.Schema {
	return domain.Schema{
		{Name: label + domain.HourSuffix, Kind: domain.KindCategory},
		{Name: label + domain.WeekdaySuffix, Kind: domain.KindCategory},
		{Name: label + domain.DayOfYearSuffix, Kind: domain.KindCategory},
		{Name: label + domain.WeekOfYearSuffix, Kind: domain.KindCategory},
		{Name: label + domain.MonthSuffix, Kind: domain.KindCategory},
	}
}
