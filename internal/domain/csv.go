package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ReadCSV reads a CSV document with a header row into a raw table. A header
// with no data rows yields an empty table that still carries the columns.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("read csv: no header row")
	}
	return NewRawTable(records[0], records[1:])
}
