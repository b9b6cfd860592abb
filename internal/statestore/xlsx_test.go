package statestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

func writeTempXLSX(t *testing.T, header []string, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	for i, col := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, col))
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}

	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestLoad_XLSX_DetectsColumns(t *testing.T) {
	path := writeTempXLSX(t,
		[]string{"PO_NUMBER", "CUSTOM_COL"},
		[][]string{{"PO15262984", "hello"}},
	)
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)

	rows, layout, err := s.Load()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"CUSTOM_COL"}, layout.UnknownCols)
	assert.Equal(t, "PO15262984", rows[0].PONumber)
	assert.Equal(t, "hello", rows[0].UnknownValues["CUSTOM_COL"])
}

func TestApplyResult_XLSX_RoundTrip(t *testing.T) {
	path := writeTempXLSX(t, []string{"PO_NUMBER", "STATUS"}, [][]string{{"PO111", ""}})
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	require.NoError(t, err)

	require.NoError(t, s.ApplyResult(model.PoResult{
		DisplayID:             "po111",
		StatusCode:            model.StatusCompleted,
		SupplierName:          "Acme Corp",
		AttachmentsFound:      1,
		AttachmentsDownloaded: 1,
		AttachmentNames:       []string{"a.pdf"},
	}))

	s2 := New(path, logger)
	rows2, _, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	assert.Equal(t, "Acme Corp", rows2[0].Supplier)
	assert.Equal(t, string(model.StatusCompleted), rows2[0].Status)
}

func TestLoad_XLSX_MissingFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	s := New(filepath.Join(t.TempDir(), "nope.xlsx"), logger)
	_, _, err := s.Load()
	assert.ErrorIs(t, err, ErrInputMissing)
}
