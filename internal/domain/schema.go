package domain

import (
	"fmt"
	"strings"
)

// ColumnSpec names one expected column and its kind.
type ColumnSpec struct {
	Name string
	Kind Kind
}

// Schema enumerates the columns a clean table must carry. Extra columns are
// allowed; they are source fields the pipeline passes through untouched.
type Schema []ColumnSpec

// Names returns the expected column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Validate reports every expected column that is missing or has the wrong kind.
func (s Schema) Validate(t *Table) error {
	var problems []string
	for _, want := range s {
		c, err := t.Column(want.Name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: missing", want.Name))
			continue
		}
		if c.Kind != want.Kind {
			problems = append(problems, fmt.Sprintf("%s: got %s, want %s", want.Name, c.Kind, want.Kind))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaDrift, strings.Join(problems, "; "))
	}
	return nil
}

// Require checks that a raw table carries all of the named columns.
func Require(t *Table, names ...string) error {
	var missing []string
	for _, n := range names {
		if !t.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaDrift, strings.Join(missing, ", "))
	}
	return nil
}
