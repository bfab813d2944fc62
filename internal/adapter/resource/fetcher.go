// Package resource downloads whole-file exports of open datasets and parses
// them into raw tables.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
	"github.com/couchcryptid/crime-data-etl/internal/observability"
)

// ErrUnsupportedFormat is returned for a format the fetcher cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported resource format")

// Format identifies how a downloaded resource is encoded.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatZippedCSV Format = "zipped_csv"
	FormatGeoJSON   Format = "geojson"
)

// GeometryColumn is the column that holds feature geometries of a GeoJSON resource.
const GeometryColumn = "geometry"

// DownloadError reports a non-200 response for a resource download.
type DownloadError struct {
	URL        string
	StatusCode int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
}

// Fetcher keeps a local copy of remote resources and parses them.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewFetcher creates a Fetcher. Large exports take minutes, so timeout should
// be generous.
func NewFetcher(timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch returns the resource of dataset stored at path, downloading it from
// url first when the file is missing or force is set. Errors are returned as they
// happen; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, dataset, path, url string, format Format, force bool) (*domain.Table, error) {
	if !format.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if _, err := os.Stat(path); force || errors.Is(err, os.ErrNotExist) {
		if err := f.download(ctx, path, url); err != nil {
			return nil, err
		}
		f.metrics.ResourceFetches.WithLabelValues(dataset, "downloaded").Inc()
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	} else {
		f.logger.Debug("using local resource", "path", path)
		f.metrics.ResourceFetches.WithLabelValues(dataset, "cached").Inc()
	}

	return Parse(path, format)
}

// Parse reads a local resource file.
func Parse(path string, format Format) (*domain.Table, error) {
	switch format {
	case FormatCSV:
		return readCSVFile(path)
	case FormatZippedCSV:
		return readZippedCSV(path)
	case FormatGeoJSON:
		return readGeoJSON(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func (format Format) valid() bool {
	switch format {
	case FormatCSV, FormatZippedCSV, FormatGeoJSON:
		return true
	}
	return false
}

// download streams url into a temp file next to path and renames it into
// place once complete.
func (f *Fetcher) download(ctx context.Context, path, url string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	f.logger.Info("downloading resource", "url", url, "path", path)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename download: %w", err)
	}

	f.logger.Info("downloaded resource", "path", path, "bytes", n, "duration", time.Since(start).String())
	return nil
}

func readCSVFile(path string) (*domain.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	t, err := domain.ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// readZippedCSV parses the first .csv entry of a zip archive.
func readZippedCSV(path string) (*domain.Table, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(entry.Name), ".csv") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", entry.Name, path, err)
		}
		defer rc.Close()

		t, err := domain.ReadCSV(rc)
		if err != nil {
			return nil, fmt.Errorf("parse %s in %s: %w", entry.Name, path, err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("archive %s has no csv entry", path)
}

// readGeoJSON flattens a feature collection into a table: one string column
// per property key, in sorted order, followed by the geometry column.
func readGeoJSON(path string) (*domain.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	keys := propertyKeys(fc.Features)
	if slices.Contains(keys, GeometryColumn) {
		return nil, fmt.Errorf("parse %s: property %q collides with the geometry column", path, GeometryColumn)
	}

	n := len(fc.Features)
	cols := make([]*domain.Column, 0, len(keys)+1)
	for _, k := range keys {
		c := domain.NewColumn(k, domain.KindString, n)
		for i, feat := range fc.Features {
			if s, ok := propertyString(feat.Properties[k]); ok {
				c.Strings[i] = s
				c.Valid[i] = true
			}
		}
		cols = append(cols, c)
	}

	geom := domain.NewColumn(GeometryColumn, domain.KindGeometry, n)
	for i, feat := range fc.Features {
		if feat.Geometry != nil {
			geom.Geoms[i] = feat.Geometry
			geom.Valid[i] = true
		}
	}
	cols = append(cols, geom)

	return domain.NewTable(cols...)
}

func propertyKeys(features []*geojson.Feature) []string {
	set := make(map[string]struct{})
	for _, f := range features {
		for k := range f.Properties {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// propertyString renders a property value as a raw cell. Null and empty
// values are missing.
func propertyString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x), true
		}
		return string(raw), true
	}
}
