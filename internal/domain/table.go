package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

var (
	// ErrMissingColumn is returned when an operation names a column the table does not have.
	ErrMissingColumn = errors.New("missing column")

	// ErrSchemaDrift is returned when a table no longer matches its expected schema.
	ErrSchemaDrift = errors.New("schema drift")
)

// Kind is the storage type of a column.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTimestamp
	KindCategory
	KindGeometry
)

var kindNames = map[Kind]string{
	KindString:    "string",
	KindInt:       "int",
	KindFloat:     "float",
	KindBool:      "bool",
	KindTimestamp: "timestamp",
	KindCategory:  "category",
	KindGeometry:  "geometry",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// Column is a named, typed vector of values. Only the slice matching Kind is
// populated; Valid marks non-null cells and always has the column's length.
type Column struct {
	Name    string
	Kind    Kind
	Strings []string
	Ints    []int64
	Floats  []float64
	Bools   []bool
	Times   []time.Time
	Geoms   []orb.Geometry
	Valid   []bool

	// Categories is the value domain of a KindCategory column. Ordered columns
	// compare by position in Categories rather than lexically.
	Categories []string
	Ordered    bool
}

// NewColumn allocates an all-null column of n rows.
func NewColumn(name string, kind Kind, n int) *Column {
	c := &Column{Name: name, Kind: kind, Valid: make([]bool, n)}
	switch kind {
	case KindString, KindCategory:
		c.Strings = make([]string, n)
	case KindInt:
		c.Ints = make([]int64, n)
	case KindFloat:
		c.Floats = make([]float64, n)
	case KindBool:
		c.Bools = make([]bool, n)
	case KindTimestamp:
		c.Times = make([]time.Time, n)
	case KindGeometry:
		c.Geoms = make([]orb.Geometry, n)
	}
	return c
}

// NewCategoryColumn builds a category column from string values. An empty
// string is treated as null. When categories is nil the domain is the sorted
// set of observed values.
func NewCategoryColumn(name string, values []string, categories []string, ordered bool) *Column {
	c := NewColumn(name, KindCategory, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		c.Strings[i] = v
		c.Valid[i] = true
	}
	if categories == nil {
		categories = observedValues(c)
	}
	c.Categories = categories
	c.Ordered = ordered
	return c
}

// Len returns the number of rows.
func (c *Column) Len() int { return len(c.Valid) }

// IsNull reports whether row i holds no value.
func (c *Column) IsNull(i int) bool { return !c.Valid[i] }

// Value returns row i as an untyped value, or nil when the cell is null.
func (c *Column) Value(i int) any {
	if !c.Valid[i] {
		return nil
	}
	switch c.Kind {
	case KindString, KindCategory:
		return c.Strings[i]
	case KindInt:
		return c.Ints[i]
	case KindFloat:
		return c.Floats[i]
	case KindBool:
		return c.Bools[i]
	case KindTimestamp:
		return c.Times[i]
	case KindGeometry:
		return c.Geoms[i]
	}
	return nil
}

func (c *Column) clone() *Column {
	out := &Column{
		Name:    c.Name,
		Kind:    c.Kind,
		Ordered: c.Ordered,
		Valid:   append([]bool(nil), c.Valid...),
	}
	if c.Categories != nil {
		out.Categories = append([]string(nil), c.Categories...)
	}
	switch c.Kind {
	case KindString, KindCategory:
		out.Strings = append(make([]string, 0, len(c.Strings)), c.Strings...)
	case KindInt:
		out.Ints = append(make([]int64, 0, len(c.Ints)), c.Ints...)
	case KindFloat:
		out.Floats = append(make([]float64, 0, len(c.Floats)), c.Floats...)
	case KindBool:
		out.Bools = append(make([]bool, 0, len(c.Bools)), c.Bools...)
	case KindTimestamp:
		out.Times = append(make([]time.Time, 0, len(c.Times)), c.Times...)
	case KindGeometry:
		out.Geoms = make([]orb.Geometry, len(c.Geoms))
		for i, g := range c.Geoms {
			if g != nil {
				out.Geoms[i] = orb.Clone(g)
			}
		}
	}
	return out
}

// take returns a new column holding the rows at idx, in that order.
func (c *Column) take(idx []int) *Column {
	out := NewColumn(c.Name, c.Kind, len(idx))
	out.Ordered = c.Ordered
	if c.Categories != nil {
		out.Categories = append([]string(nil), c.Categories...)
	}
	for j, i := range idx {
		out.Valid[j] = c.Valid[i]
		switch c.Kind {
		case KindString, KindCategory:
			out.Strings[j] = c.Strings[i]
		case KindInt:
			out.Ints[j] = c.Ints[i]
		case KindFloat:
			out.Floats[j] = c.Floats[i]
		case KindBool:
			out.Bools[j] = c.Bools[i]
		case KindTimestamp:
			out.Times[j] = c.Times[i]
		case KindGeometry:
			out.Geoms[j] = c.Geoms[i]
		}
	}
	return out
}

// Table is an ordered collection of equal-length columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewTable builds a table from columns, which must share a length and have
// unique names.
func NewTable(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if i == 0 {
			t.rows = c.Len()
		}
		if c.Len() != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), t.rows)
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		t.index[c.Name] = i
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// NewRawTable builds an all-string table from a header and rows as delivered
// by a CSV source. Empty cells are null. Short rows are padded with nulls.
func NewRawTable(header []string, rows [][]string) (*Table, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		cols[j] = NewColumn(name, KindString, len(rows))
	}
	for i, row := range rows {
		if len(row) > len(header) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", i, len(row), len(header))
		}
		for j, v := range row {
			if v == "" {
				continue
			}
			cols[j].Strings[i] = v
			cols[j].Valid[i] = true
		}
	}
	return NewTable(cols...)
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Names returns the column names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the table's columns in order. Callers must not resize them.
func (t *Table) Columns() []*Column { return t.cols }

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return t.cols[i], nil
}

// Set replaces the column with the same name in place, or appends it.
func (t *Table) Set(c *Column) error {
	if len(t.cols) > 0 && c.Len() != t.rows {
		return fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), t.rows)
	}
	if len(t.cols) == 0 {
		t.rows = c.Len()
	}
	if i, ok := t.index[c.Name]; ok {
		t.cols[i] = c
		return nil
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Drop removes the named columns. If any name is absent nothing is removed.
func (t *Table) Drop(names ...string) error {
	var missing []string
	for _, n := range names {
		if !t.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("drop columns: %w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := t.cols[:0:0]
	for _, c := range t.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	t.cols = kept
	t.reindex()
	return nil
}

// Rename applies fn to every column name. Two columns mapping to the same
// name is an error and leaves the table unchanged.
func (t *Table) Rename(fn func(string) string) error {
	seen := make(map[string]string, len(t.cols))
	renamed := make([]string, len(t.cols))
	for i, c := range t.cols {
		n := fn(c.Name)
		if prev, dup := seen[n]; dup {
			return fmt.Errorf("rename: %q and %q both map to %q", prev, c.Name, n)
		}
		seen[n] = c.Name
		renamed[i] = n
	}
	for i, c := range t.cols {
		c.Name = renamed[i]
	}
	t.reindex()
	return nil
}

// Select returns a table holding only the named columns, in the given order.
// The columns are shared with t.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := t.Column(n)
		if err != nil {
			return nil, fmt.Errorf("select: %w", err)
		}
		cols[i] = c
	}
	out, err := NewTable(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = t.rows
	return out, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{index: make(map[string]int, len(t.cols)), rows: t.rows}
	for i, c := range t.cols {
		out.cols = append(out.cols, c.clone())
		out.index[c.Name] = i
	}
	return out
}

// Take returns a new table holding the rows at idx, in that order.
func (t *Table) Take(idx []int) *Table {
	out := &Table{index: make(map[string]int, len(t.cols)), rows: len(idx)}
	for i, c := range t.cols {
		out.cols = append(out.cols, c.take(idx))
		out.index[c.Name] = i
	}
	return out
}

// Row returns row i keyed by column name, with nulls as nil.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.cols))
	for _, c := range t.cols {
		row[c.Name] = c.Value(i)
	}
	return row
}

// MaxTime returns the latest non-null value of a timestamp column. ok is false
// when the column holds no values.
func (t *Table) MaxTime(name string) (latest time.Time, ok bool, err error) {
	c, err := t.Column(name)
	if err != nil {
		return time.Time{}, false, err
	}
	if c.Kind != KindTimestamp {
		return time.Time{}, false, fmt.Errorf("column %q is %s, not timestamp", name, c.Kind)
	}
	for i, v := range c.Times {
		if !c.Valid[i] {
			continue
		}
		if !ok || v.After(latest) {
			latest, ok = v, true
		}
	}
	return latest, ok, nil
}

// Concat appends the rows of others to a copy of t. All tables must have the
// same column names and kinds, in the same order. Category domains are merged:
// fixed ordered domains that agree are kept, anything else becomes the sorted
// union.
func Concat(t *Table, others ...*Table) (*Table, error) {
	out := t.Clone()
	for _, o := range others {
		if err := sameShape(out, o); err != nil {
			return nil, fmt.Errorf("concat: %w", err)
		}
		for j, c := range out.cols {
			appendColumn(c, o.cols[j])
		}
		out.rows += o.rows
	}
	return out, nil
}

func sameShape(a, b *Table) error {
	if len(a.cols) != len(b.cols) {
		return fmt.Errorf("%w: %d columns vs %d", ErrSchemaDrift, len(a.cols), len(b.cols))
	}
	for j, c := range a.cols {
		o := b.cols[j]
		if c.Name != o.Name || c.Kind != o.Kind {
			return fmt.Errorf("%w: column %d is %s %s vs %s %s", ErrSchemaDrift, j, c.Name, c.Kind, o.Name, o.Kind)
		}
	}
	return nil
}

func appendColumn(dst, src *Column) {
	dst.Valid = append(dst.Valid, src.Valid...)
	switch dst.Kind {
	case KindString:
		dst.Strings = append(dst.Strings, src.Strings...)
	case KindCategory:
		dst.Strings = append(dst.Strings, src.Strings...)
		dst.Ordered = dst.Ordered && src.Ordered
		dst.Categories = mergeDomains(dst.Categories, src.Categories, dst.Ordered)
	case KindInt:
		dst.Ints = append(dst.Ints, src.Ints...)
	case KindFloat:
		dst.Floats = append(dst.Floats, src.Floats...)
	case KindBool:
		dst.Bools = append(dst.Bools, src.Bools...)
	case KindTimestamp:
		dst.Times = append(dst.Times, src.Times...)
	case KindGeometry:
		dst.Geoms = append(dst.Geoms, src.Geoms...)
	}
}

// mergeDomains returns the union of two category domains. Ordered domains
// keep the numeric-aware order ObservedOrder uses.
func mergeDomains(a, b []string, ordered bool) []string {
	if equalStrings(a, b) {
		return a
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	if ordered {
		sortNumericAware(out)
	} else {
		sort.Strings(out)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// observedValues returns the sorted distinct non-null values of a string-backed column.
func observedValues(c *Column) []string {
	set := make(map[string]struct{})
	for i, v := range c.Strings {
		if c.Valid[i] {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}
