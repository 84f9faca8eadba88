// Package exporter writes the record sets of one run to disk. It is the
// thin downstream boundary: CSV plus JSONL, one timestamped folder per run.
package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kmehring/go-dbapi-compare/models"
)

// Paths lists everything one export produced.
type Paths struct {
	Folder      string
	DBCSV       string
	APICSV      string
	MergedCSV   string
	MergedJSONL string
}

// ExportRun writes db.csv, api.csv, merged.csv and merged.jsonl into a
// fresh run_<timestamp> folder under baseDir.
func ExportRun(baseDir string, db, api, merged *models.RecordSet) (Paths, error) {
	folder, err := makeOutDir(baseDir)
	if err != nil {
		return Paths{}, err
	}
	paths := Paths{
		Folder:      folder,
		DBCSV:       filepath.Join(folder, "db.csv"),
		APICSV:      filepath.Join(folder, "api.csv"),
		MergedCSV:   filepath.Join(folder, "merged.csv"),
		MergedJSONL: filepath.Join(folder, "merged.jsonl"),
	}

	if err := WriteCSV(paths.DBCSV, db); err != nil {
		return paths, err
	}
	if err := WriteCSV(paths.APICSV, api); err != nil {
		return paths, err
	}
	if err := WriteCSV(paths.MergedCSV, merged); err != nil {
		return paths, err
	}
	if err := WriteJSONL(paths.MergedJSONL, merged); err != nil {
		return paths, err
	}
	return paths, nil
}

// WriteCSV writes one record set with a header row. Cells render via
// models.FormatCell: nil empty, bytes hex, timestamps RFC3339.
func WriteCSV(filename string, rs *models.RecordSet) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(rs.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i, cell := range row {
			record[i] = models.FormatCell(cell)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSONL writes one record set as newline-delimited JSON objects.
func WriteJSONL(filename string, rs *models.RecordSet) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create jsonl file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, row := range rs.Rows {
		obj := make(map[string]any, len(rs.Columns))
		for i, col := range rs.Columns {
			obj[col] = jsonCell(row[i])
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("encode jsonl record: %w", err)
		}
	}
	return nil
}

// FixesDir returns the fix-script directory for an export root.
func FixesDir(baseDir string) string {
	return filepath.Join(baseDir, "validator_fixes")
}

func jsonCell(v any) any {
	switch t := v.(type) {
	case []byte:
		return fmt.Sprintf("%x", t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return t
	}
}

func makeOutDir(baseDir string) (string, error) {
	if baseDir == "" {
		baseDir = "output"
	}
	folder := filepath.Join(baseDir, "run_"+time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create export directory %q: %w", folder, err)
	}
	return folder, nil
}
