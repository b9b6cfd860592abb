package statestore

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

// readXLSX returns the first sheet's rows, header included, the same
// [][]string shape csv.Reader.ReadAll produces — so Load's column
// detection and row-building logic never needs to know which format it
// is reading.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInputMalformed)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}
	return rows, nil
}

// writeXLSX re-emits the state file as a single-sheet workbook, same
// canonical-then-unknown column order as the CSV path, written to a
// temporary ".tmp.xlsx" path first (excelize only saves under a workbook
// extension) and renamed into place atomically.
func writeXLSX(path string, columns []string, rows []*model.InputRow, value func(*model.InputRow, string) string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}

	for r, row := range rows {
		for c, col := range columns {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value(row, col)); err != nil {
				return err
			}
		}
	}

	tmp := path + ".tmp.xlsx"
	if err := f.SaveAs(tmp); err != nil {
		return fmt.Errorf("failed to write xlsx state file: %w", err)
	}
	return os.Rename(tmp, path)
}
