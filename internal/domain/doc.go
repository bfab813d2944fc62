// Package domain models the City of Chicago public-safety datasets as typed
// tables and holds the column transforms used to clean them.
//
// # Data Sources
//
// Two incident-level datasets are published on the city's Socrata portal
// (https://data.cityofchicago.org):
//
//	Crimes - 2001 to Present                       (ijzp-q8t2)
//	Violence Reduction - Victims of Homicides and
//	  Non-Fatal Shootings                          (gumc-mgzr)
//
// Each is available as a full CSV export and through the resource API
// (/resource/<id>.csv), which accepts SoQL parameters ($select, $where,
// $limit, $offset, $order).
//
// # Source Conventions
//
// Column names:
//
//	The CSV export uses display names ("Primary Type", "Updated On"); the
//	resource API uses field names ("primary_type", "updated_on"). Both are
//	normalized to lower_snake_case by [NormalizeColumnName] so a single
//	pipeline serves both.
//
// Timestamps:
//
//	Export:   "05/01/2023 11:45:00 PM"   (01/02/2006 03:04:05 PM)
//	API:      "2023-05-01T23:45:00.000"  (floating, no zone)
//	Times are local to Chicago but carry no offset; they are stored as UTC
//	wall-clock values so formatting a watermark reproduces the source literal.
//
// Integer codes:
//
//	District, ward, community area, beat and zip code are codes, not
//	quantities. Exports may render them as "7" or "7.0"; [ZeroPadCodes]
//	turns them into zero-padded categories ("07").
//
// Coordinates:
//
//	Latitude/longitude are WGS-84 decimal degrees and are blank for
//	incidents the city does not geolocate. [PointGeometry] yields a null
//	geometry for those rows.
//
// # Categories
//
// A category column stores strings plus a value domain. Calendar features use
// fixed ordered domains (hour 00..23, weekday MON..SUN, day 1..366, ISO week
// 1..53, month 01..12) independent of the observed data; year is ordered over
// the observed values. Free-text enumerations are unordered with a sorted
// observed domain.
package domain
