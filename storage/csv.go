package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"livinginsider-scraper/models"
)

// CSVRenderer renders listings in the fixed schema order, header row first.
type CSVRenderer struct{}

func (CSVRenderer) ContentType() string   { return "text/csv; charset=utf-8" }
func (CSVRenderer) FileExtension() string { return "csv" }

// Render streams all rows to w. The column set is identical for every row;
// null fields render as empty cells.
func (CSVRenderer) Render(w io.Writer, listings []*models.Listing) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(models.ListingColumns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, l := range listings {
		record := make([]string, 0, len(models.ListingColumns))
		for _, v := range l.Values() {
			record = append(record, cellString(v))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv: write row %s: %w", l.ListingID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile renders listings to a file on disk, creating intermediate
// directories. Used by the one-shot CLI mode.
func WriteCSVFile(path string, listings []*models.Listing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()
	return CSVRenderer{}.Render(f, listings)
}

// cellString formats one schema value for a text cell. Nil pointers become
// the empty string, the explicit-null convention of the schema.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case int:
		return strconv.Itoa(x)
	case *int:
		if x == nil {
			return ""
		}
		return strconv.Itoa(*x)
	case bool:
		return strconv.FormatBool(x)
	case *bool:
		if x == nil {
			return ""
		}
		return strconv.FormatBool(*x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}
