package dataset

import (
	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// Violence lists victims of homicides and non-fatal shootings.
var Violence = Dataset{
	Name:          "violence",
	RawFileName:   "Violence_Reduction_-_Victims_of_Homicides_and_Non-Fatal_Shootings.csv",
	CleanFileName: "Violence_Reduction_-_Victims_of_Homicides_and_Non-Fatal_Shootings.parquet.gzip",
	DownloadURL:   "https://data.cityofchicago.org/api/views/gumc-mgzr/rows.csv?accessType=DOWNLOAD",
	Format:        resource.FormatCSV,
	APIBase:       "https://data.cityofchicago.org/resource/gumc-mgzr.csv",
	CountColumn:   "unique_id",
	UpdatedColumn: "updated",
	KeyColumn:     "unique_id",
	Transformer:   violenceTransformer(),
}

var violenceCategoryColumns = []string{
	"victimization_primary",
	"incident_primary",
	"community_area",
	"street_outreach_organization",
	"sex",
	"race",
	"age",
	"victimization_fbi_cd",
	"incident_fbi_cd",
	"victimization_fbi_descr",
	"incident_fbi_descr",
	"victimization_iucr_cd",
	"incident_iucr_cd",
	"victimization_iucr_secondary",
	"incident_iucr_secondary",
	"location_description",
}

func violenceTransformer() *domain.Transformer {
	schema := domain.Schema{
		{Name: "unique_id", Kind: domain.KindString},
		{Name: "date", Kind: domain.KindTimestamp},
		{Name: "updated", Kind: domain.KindTimestamp},
		{Name: "gunshot_injury_i", Kind: domain.KindBool},
		{Name: "zip_code", Kind: domain.KindCategory},
		{Name: "area", Kind: domain.KindCategory},
		{Name: "beat", Kind: domain.KindCategory},
		{Name: "ward", Kind: domain.KindCategory},
		{Name: "district", Kind: domain.KindCategory},
		{Name: "state_house_district", Kind: domain.KindCategory},
		{Name: "state_senate_district", Kind: domain.KindCategory},
	}
	for _, c := range violenceCategoryColumns {
		schema = append(schema, domain.ColumnSpec{Name: c, Kind: domain.KindCategory})
	}
	schema = append(schema, calendarSchema("")...)
	schema = append(schema,
		domain.ColumnSpec{Name: "year", Kind: domain.KindCategory},
		domain.ColumnSpec{Name: "latitude", Kind: domain.KindFloat},
		domain.ColumnSpec{Name: "longitude", Kind: domain.KindFloat},
		domain.ColumnSpec{Name: GeometryColumn, Kind: domain.KindGeometry},
	)

	return domain.NewTransformer(schema,
		domain.NormalizeColumnNames(),
		// hour, month and day_of_week duplicate what the calendar features
		// derive from date, with a Sunday-first weekday numbering.
		domain.DropColumns("location", "hour", "month", "day_of_week"),
		domain.ParseTimestamps(SourceTimeLayout, "date", "updated"),
		domain.ZeroPadCodes(0, "zip_code", "area"),
		// Beats match the four-digit beat_num of the boundary layer.
		domain.ZeroPadCodes(4, "beat"),
		domain.ZeroPadCodes(2, "ward", "district", "state_house_district", "state_senate_district"),
		domain.MapBoolean("gunshot_injury_i", "YES"),
		domain.Categorize(violenceCategoryColumns...),
		domain.CalendarFeatures("date", ""),
		domain.YearFeatureStage("date", ""),
		domain.CoerceCoordinates("latitude", "longitude"),
		domain.PointGeometry("longitude", "latitude", GeometryColumn),
	)
}

func init() { register(Violence) }
