package dataset

import (
	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// Beats is the police beat boundary layer. It has no incremental API and is
// used to zero-fill per-beat summaries.
var Beats = Dataset{
	Name:          "beats",
	RawFileName:   "Boundaries_-_Police_Beats.geojson",
	CleanFileName: "Boundaries_-_Police_Beats.parquet.gzip",
	DownloadURL:   "https://data.cityofchicago.org/api/geospatial/aerh-rz74?method=export&format=GeoJSON",
	Format:        resource.FormatGeoJSON,
	KeyColumn:     "beat_num",
	Transformer: domain.NewTransformer(
		domain.Schema{
			{Name: "beat_num", Kind: domain.KindCategory},
			{Name: resource.GeometryColumn, Kind: domain.KindGeometry},
		},
		domain.NormalizeColumnNames(),
		domain.ZeroPadCodes(4, "beat_num"),
	),
}

func init() { register(Beats) }
