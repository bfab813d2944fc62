package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Report is a tabular result that can be written as CSV.
type Report interface {
	Header() []string
	Records() [][]string
}

// WriteCSV writes r to path, creating parent directories. The file is written
// to a temporary name and renamed into place.
func WriteCSV(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(r.Header()); err != nil {
		tmp.Close()
		return fmt.Errorf("write report header: %w", err)
	}
	if err := w.WriteAll(r.Records()); err != nil {
		tmp.Close()
		return fmt.Errorf("write report rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
