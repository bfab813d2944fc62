package dataset

import (
	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// Crime is the city's reported-incident dataset, 2001 to present.
var Crime = Dataset{
	Name:          "crime",
	RawFileName:   "Crimes_-_2001_to_present.csv",
	CleanFileName: "Crimes_-_2001_to_present.parquet.gzip",
	DownloadURL:   "https://data.cityofchicago.org/api/views/ijzp-q8t2/rows.csv?accessType=DOWNLOAD",
	Format:        resource.FormatCSV,
	APIBase:       "https://data.cityofchicago.org/resource/ijzp-q8t2.csv",
	CountColumn:   "id",
	UpdatedColumn: "updated_on",
	KeyColumn:     "id",
	Transformer:   crimeTransformer(),
}

var crimeBooleanTrueValues = []string{"true", "True", "TRUE"}

func crimeTransformer() *domain.Transformer {
	schema := append(domain.Schema{
		{Name: "id", Kind: domain.KindInt},
		{Name: "date", Kind: domain.KindTimestamp},
		{Name: "updated_on", Kind: domain.KindTimestamp},
		{Name: "block", Kind: domain.KindCategory},
		{Name: "iucr", Kind: domain.KindCategory},
		{Name: "primary_type", Kind: domain.KindCategory},
		{Name: "description", Kind: domain.KindCategory},
		{Name: "location_description", Kind: domain.KindCategory},
		{Name: "fbi_code", Kind: domain.KindCategory},
		{Name: "arrest", Kind: domain.KindBool},
		{Name: "domestic", Kind: domain.KindBool},
		{Name: "beat", Kind: domain.KindCategory},
		{Name: "district", Kind: domain.KindCategory},
		{Name: "ward", Kind: domain.KindCategory},
		{Name: "community_area", Kind: domain.KindCategory},
		{Name: "year", Kind: domain.KindCategory},
		{Name: "latitude", Kind: domain.KindFloat},
		{Name: "longitude", Kind: domain.KindFloat},
		{Name: GeometryColumn, Kind: domain.KindGeometry},
	}, calendarSchema("")...)

	return domain.NewTransformer(schema,
		domain.NormalizeColumnNames(),
		domain.DropColumns("x_coordinate", "y_coordinate", "location"),
		domain.ParseTimestamps(SourceTimeLayout, "date", "updated_on"),
		domain.CoerceInt("id"),
		domain.ZeroPadCodes(2, "district", "ward", "community_area"),
		domain.ZeroPadCodes(4, "beat"),
		domain.MapBoolean("arrest", crimeBooleanTrueValues...),
		domain.MapBoolean("domestic", crimeBooleanTrueValues...),
		domain.Categorize("iucr", "primary_type", "description", "location_description", "fbi_code", "block"),
		domain.ObservedOrder("year"),
		domain.CalendarFeatures("date", ""),
		domain.CoerceCoordinates("latitude", "longitude"),
		domain.PointGeometry("longitude", "latitude", GeometryColumn),
	)
}

func init() { register(Crime) }
