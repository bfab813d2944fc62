// Package parquet persists clean tables as gzip-compressed Parquet files.
//
// Column kinds map to Arrow types as follows:
//
//	string, category -> utf8
//	int              -> int64
//	float            -> float64
//	bool             -> bool
//	timestamp        -> timestamp[us, UTC]
//	geometry         -> binary (WKB)
//
// The Arrow types alone cannot tell a category from a string or a geometry
// from other binary data, so the kind, category domain and ordering of every
// column are written to the file's key-value metadata under ColumnsKey. A
// read restores the table exactly as it was written.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	pq "github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	json "github.com/goccy/go-json"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
)

// ColumnsKey is the key-value metadata entry describing the table's columns.
const ColumnsKey = "crime_etl:columns"

// columnMeta is the persisted description of one column.
type columnMeta struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Categories []string `json:"categories,omitempty"`
	Ordered    bool     `json:"ordered,omitempty"`
}

// Store reads and writes clean table snapshots.
type Store struct {
	mem    memory.Allocator
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{mem: memory.NewGoAllocator(), logger: logger}
}

// Exists reports whether a snapshot is present at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Write stores t at path. The file is written next to its destination and
// renamed into place, so a failed write never leaves a partial snapshot.
func (s *Store) Write(path string, t *domain.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	schema, err := arrowSchema(t)
	if err != nil {
		return err
	}
	rec, err := s.buildRecord(schema, t)
	if err != nil {
		return err
	}
	defer rec.Release()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	props := pq.NewWriterProperties(pq.WithCompression(compress.Codecs.Gzip))
	fw, err := pqarrow.NewFileWriter(schema, tmp, props, pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(s.mem)))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	s.logger.Debug("wrote clean snapshot", "path", path, "rows", t.Len(), "columns", len(t.Columns()))
	return nil
}

// Read loads the snapshot at path.
func (s *Store) Read(ctx context.Context, path string) (*domain.Table, error) {
	fr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer fr.Close()

	metas, err := readColumnMeta(fr)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}

	ar, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, s.mem)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}
	tbl, err := ar.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	defer tbl.Release()

	if int(tbl.NumCols()) != len(metas) {
		return nil, fmt.Errorf("snapshot %s: %d columns, metadata describes %d", path, tbl.NumCols(), len(metas))
	}

	n := int(tbl.NumRows())
	cols := make([]*domain.Column, len(metas))
	for i, m := range metas {
		col, err := fromArrow(m, tbl.Column(i).Data().Chunks(), n)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: column %q: %w", path, m.Name, err)
		}
		cols[i] = col
	}
	return domain.NewTable(cols...)
}

func readColumnMeta(fr *file.Reader) ([]columnMeta, error) {
	v := fr.MetaData().KeyValueMetadata().FindValue(ColumnsKey)
	if v == nil {
		return nil, fmt.Errorf("missing %s metadata", ColumnsKey)
	}
	var metas []columnMeta
	if err := json.Unmarshal([]byte(*v), &metas); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", ColumnsKey, err)
	}
	return metas, nil
}

func arrowType(k domain.Kind) (arrow.DataType, error) {
	switch k {
	case domain.KindString, domain.KindCategory:
		return arrow.BinaryTypes.String, nil
	case domain.KindInt:
		return arrow.PrimitiveTypes.Int64, nil
	case domain.KindFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case domain.KindBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case domain.KindTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case domain.KindGeometry:
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, fmt.Errorf("unsupported column kind %s", k)
}

func arrowSchema(t *domain.Table) (*arrow.Schema, error) {
	cols := t.Columns()
	fields := make([]arrow.Field, len(cols))
	metas := make([]columnMeta, len(cols))
	for i, c := range cols {
		typ, err := arrowType(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: typ, Nullable: true}
		metas[i] = columnMeta{Name: c.Name, Kind: c.Kind.String(), Categories: c.Categories, Ordered: c.Ordered}
	}
	encoded, err := json.Marshal(metas)
	if err != nil {
		return nil, fmt.Errorf("encode column metadata: %w", err)
	}
	md := arrow.NewMetadata([]string{ColumnsKey}, []string{string(encoded)})
	return arrow.NewSchema(fields, &md), nil
}

func (s *Store) buildRecord(schema *arrow.Schema, t *domain.Table) (arrow.Record, error) {
	rb := array.NewRecordBuilder(s.mem, schema)
	defer rb.Release()

	for i, c := range t.Columns() {
		if err := appendColumn(rb.Field(i), c); err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
	}
	return rb.NewRecord(), nil
}

func appendColumn(b array.Builder, c *domain.Column) error {
	n := c.Len()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		if !c.Valid[i] {
			b.AppendNull()
			continue
		}
		switch fb := b.(type) {
		case *array.StringBuilder:
			fb.Append(c.Strings[i])
		case *array.Int64Builder:
			fb.Append(c.Ints[i])
		case *array.Float64Builder:
			fb.Append(c.Floats[i])
		case *array.BooleanBuilder:
			fb.Append(c.Bools[i])
		case *array.TimestampBuilder:
			fb.Append(arrow.Timestamp(c.Times[i].UnixMicro()))
		case *array.BinaryBuilder:
			raw, err := wkb.Marshal(c.Geoms[i])
			if err != nil {
				return fmt.Errorf("row %d: encode geometry: %w", i, err)
			}
			fb.Append(raw)
		default:
			return fmt.Errorf("unsupported builder %T", b)
		}
	}
	return nil
}

func fromArrow(m columnMeta, chunks []arrow.Array, n int) (*domain.Column, error) {
	kind, err := domain.ParseKind(m.Kind)
	if err != nil {
		return nil, err
	}
	c := domain.NewColumn(m.Name, kind, n)
	c.Categories = m.Categories
	c.Ordered = m.Ordered
	if kind == domain.KindCategory && c.Categories == nil {
		c.Categories = []string{}
	}

	row := 0
	for _, chunk := range chunks {
		for j := 0; j < chunk.Len(); j, row = j+1, row+1 {
			if chunk.IsNull(j) {
				continue
			}
			c.Valid[row] = true
			switch arr := chunk.(type) {
			case *array.String:
				c.Strings[row] = arr.Value(j)
			case *array.Int64:
				c.Ints[row] = arr.Value(j)
			case *array.Float64:
				c.Floats[row] = arr.Value(j)
			case *array.Boolean:
				c.Bools[row] = arr.Value(j)
			case *array.Timestamp:
				c.Times[row] = time.UnixMicro(int64(arr.Value(j))).UTC()
			case *array.Binary:
				g, err := wkb.Unmarshal(arr.Value(j))
				if err != nil {
					return nil, fmt.Errorf("row %d: decode geometry: %w", row, err)
				}
				c.Geoms[row] = g
			default:
				return nil, fmt.Errorf("unsupported arrow array %T", chunk)
			}
		}
	}
	if row != n {
		return nil, fmt.Errorf("read %d rows, want %d", row, n)
	}
	return c, nil
}
