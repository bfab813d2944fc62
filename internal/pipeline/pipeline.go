package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/config"
	"github.com/couchcryptid/crime-data-etl/internal/dataset"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
	"github.com/couchcryptid/crime-data-etl/internal/observability"
)

// RawFetcher returns a dataset's full export as a raw table.
type RawFetcher interface {
	Fetch(ctx context.Context, dataset, path, url string, format resource.Format, force bool) (*domain.Table, error)
}

// Store persists clean tables.
type Store interface {
	Exists(path string) bool
	Read(ctx context.Context, path string) (*domain.Table, error)
	Write(path string, t *domain.Table) error
}

// Publisher sends clean rows downstream.
type Publisher interface {
	Publish(ctx context.Context, dataset, keyColumn string, t *domain.Table) error
}

// Options controls how LoadClean treats local files.
type Options struct {
	// ForceRefetch downloads the raw export again and rebuilds the clean
	// snapshot from it.
	ForceRefetch bool
	// ForceRebuild rebuilds the clean snapshot from the local raw export.
	ForceRebuild bool
}

// RefreshOptions controls what Refresh does with newly fetched rows.
type RefreshOptions struct {
	// Merge folds the new rows into the clean snapshot and rewrites it.
	Merge bool
	// Publish sends the new clean rows to the Publisher.
	Publish bool
}

// RefreshResult describes one incremental refresh.
type RefreshResult struct {
	// Updates holds the clean rows added or updated since the watermark.
	Updates *domain.Table
	// Snapshot is the clean dataset after the refresh. It equals the
	// previous snapshot unless Merge was set.
	Snapshot *domain.Table
}

// Pipeline loads, cleans, caches and refreshes datasets.
type Pipeline struct {
	root      string
	fetcher   RawFetcher
	store     Store
	updater   *IncrementalUpdater
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline that keeps its files under root. publisher may be
// nil when publishing is disabled.
func New(root string, f RawFetcher, s Store, u *IncrementalUpdater, p Publisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		root:      root,
		fetcher:   f,
		store:     s,
		updater:   u,
		publisher: p,
		logger:    logger,
		metrics:   metrics,
	}
}

// RawPath is where the raw export of ds is kept.
func (p *Pipeline) RawPath(ds dataset.Dataset) string {
	return filepath.Join(p.root, config.RawDir, ds.RawFileName)
}

// CleanPath is where the clean snapshot of ds is kept.
func (p *Pipeline) CleanPath(ds dataset.Dataset) string {
	return filepath.Join(p.root, config.CleanDir, ds.CleanFileName)
}

// LoadClean returns the clean dataset, reading the snapshot when one exists
// and rebuilding it from the raw export otherwise.
func (p *Pipeline) LoadClean(ctx context.Context, ds dataset.Dataset, opts Options) (*domain.Table, error) {
	cleanPath := p.CleanPath(ds)
	if !opts.ForceRefetch && !opts.ForceRebuild && p.store.Exists(cleanPath) {
		t, err := p.store.Read(ctx, cleanPath)
		if err != nil {
			return nil, fmt.Errorf("read %s snapshot: %w", ds.Name, err)
		}
		p.metrics.CacheLoads.WithLabelValues(ds.Name, "cache").Inc()
		p.logger.Info("loaded clean snapshot", "dataset", ds.Name, "rows", t.Len(), "path", cleanPath)
		return t, nil
	}

	raw, err := p.fetcher.Fetch(ctx, ds.Name, p.RawPath(ds), ds.DownloadURL, ds.Format, opts.ForceRefetch)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ds.Name, err)
	}
	clean, err := p.transform(ds, raw)
	if err != nil {
		return nil, err
	}
	if err := p.store.Write(cleanPath, clean); err != nil {
		return nil, fmt.Errorf("write %s snapshot: %w", ds.Name, err)
	}
	p.metrics.CacheLoads.WithLabelValues(ds.Name, "rebuild").Inc()
	p.logger.Info("rebuilt clean snapshot", "dataset", ds.Name, "rows", clean.Len(), "path", cleanPath)
	return clean, nil
}

// Refresh fetches the rows added or updated since the snapshot's newest
// record and cleans them. Depending on opts the new rows are merged into the
// snapshot and published.
func (p *Pipeline) Refresh(ctx context.Context, ds dataset.Dataset, opts RefreshOptions) (*RefreshResult, error) {
	if !ds.Incremental() {
		return nil, fmt.Errorf("dataset %s has no incremental source", ds.Name)
	}

	snapshot, err := p.LoadClean(ctx, ds, Options{})
	if err != nil {
		return nil, err
	}
	raw, err := p.updater.FetchSince(ctx, ds, snapshot)
	if err != nil {
		return nil, err
	}
	updates, err := p.transform(ds, raw)
	if err != nil {
		return nil, err
	}
	result := &RefreshResult{Updates: updates, Snapshot: snapshot}

	if updates.Len() == 0 {
		p.logger.Info("no new records", "dataset", ds.Name)
		return result, nil
	}

	if opts.Merge {
		merged, err := domain.MergeByKey(snapshot, updates, ds.KeyColumn)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", ds.Name, err)
		}
		if err := p.store.Write(p.CleanPath(ds), merged); err != nil {
			return nil, fmt.Errorf("write %s snapshot: %w", ds.Name, err)
		}
		p.logger.Info("merged new records",
			"dataset", ds.Name,
			"new_rows", updates.Len(),
			"rows_before", snapshot.Len(),
			"rows_after", merged.Len(),
		)
		result.Snapshot = merged
	}

	if opts.Publish {
		if p.publisher == nil {
			return nil, fmt.Errorf("publish %s: publishing is disabled", ds.Name)
		}
		if err := p.publisher.Publish(ctx, ds.Name, ds.KeyColumn, updates); err != nil {
			return nil, fmt.Errorf("publish %s: %w", ds.Name, err)
		}
	}
	return result, nil
}

// NotReadyError lists the datasets that have no clean snapshot yet.
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return "no clean snapshot for " + strings.Join(e.Missing, ", ")
}

// MissingDatasets returns the dataset names without a clean snapshot.
func (e *NotReadyError) MissingDatasets() []string { return e.Missing }

// CheckReadiness returns a *NotReadyError until every registered dataset has
// a clean snapshot on disk.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	var missing []string
	for _, name := range dataset.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ds, _ := dataset.Lookup(name)
		if !p.store.Exists(p.CleanPath(ds)) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &NotReadyError{Missing: missing}
	}
	return nil
}

func (p *Pipeline) transform(ds dataset.Dataset, raw *domain.Table) (*domain.Table, error) {
	start := time.Now()
	clean, err := ds.Transform(raw)
	if err != nil {
		return nil, err
	}
	p.metrics.TransformDuration.WithLabelValues(ds.Name).Observe(time.Since(start).Seconds())
	p.metrics.RowsCleaned.WithLabelValues(ds.Name).Add(float64(clean.Len()))
	return clean, nil
}
