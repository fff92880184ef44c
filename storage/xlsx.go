package storage

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"livinginsider-scraper/models"
)

const xlsxSheet = "Listings"

// XLSXRenderer renders listings as a single-sheet workbook in the fixed
// schema order.
type XLSXRenderer struct{}

func (XLSXRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (XLSXRenderer) FileExtension() string { return "xlsx" }

func (XLSXRenderer) Render(w io.Writer, listings []*models.Listing) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return fmt.Errorf("xlsx: new sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("xlsx: drop default sheet: %w", err)
	}

	header := make([]any, len(models.ListingColumns))
	for i, c := range models.ListingColumns {
		header[i] = c
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}

	for i, l := range listings {
		cells := make([]any, 0, len(models.ListingColumns))
		for _, v := range l.Values() {
			cells = append(cells, xlsxCell(v))
		}
		if err := setRow(f, i+2, cells); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("xlsx: row %d: %w", row, err)
	}
	if err := f.SetSheetRow(xlsxSheet, cell, &cells); err != nil {
		return fmt.Errorf("xlsx: set row %d: %w", row, err)
	}
	return nil
}

// xlsxCell keeps native numeric/bool types so spreadsheet cells stay typed;
// nils become empty cells.
func xlsxCell(v any) any {
	switch x := v.(type) {
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *int:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case string, int, bool, float64:
		return x
	default:
		return cellString(v)
	}
}
