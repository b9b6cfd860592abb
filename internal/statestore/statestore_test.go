package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	s := New(filepath.Join(t.TempDir(), "nope.csv"), logger)
	_, _, err := s.Load()
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeTemp(t, "")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestLoad_DetectsDelimiterAndColumns(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER;CUSTOM_COL\nPO15262984;hello\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)

	rows, layout, err := s.Load()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ';', layout.Delimiter)
	assert.Equal(t, []string{"CUSTOM_COL"}, layout.UnknownCols)
	assert.Equal(t, "PO15262984", rows[0].PONumber)
	assert.Equal(t, "hello", rows[0].UnknownValues["CUSTOM_COL"])
}

func TestFilterValidPOs_MixedPrefixes(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER\nPO15262984\nPM15492200\npm00029140\nPOABC123\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	require.NoError(t, err)

	items, invalid := s.FilterValidPOs([]string{"PO", "PM"})
	require.Equal(t, 1, invalid)
	require.Len(t, items, 3)
	assert.Equal(t, "15262984", items[0].NumericID)
	assert.Equal(t, "15492200", items[1].NumericID)
	assert.Equal(t, "00029140", items[2].NumericID)
}

func TestFilterValidPOs_InvalidRowMarkedFailed(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER\nPOABC123\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	rows, _, err := s.Load()
	require.NoError(t, err)

	items, invalid := s.FilterValidPOs([]string{"PO", "PM"})
	assert.Equal(t, 1, invalid)
	assert.Empty(t, items)
	assert.Equal(t, string(model.StatusFailed), rows[0].Status)
	assert.Equal(t, "Invalid PO format", rows[0].ErrMessage)
	assert.NotEmpty(t, rows[0].LastProc)
}

func TestApplyResult_RoundTrip(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER,STATUS\nPO111,\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	require.NoError(t, err)

	result := model.PoResult{
		DisplayID:             "po111", // case-insensitive match
		StatusCode:            model.StatusCompleted,
		SupplierName:          "Acme Corp",
		AttachmentsFound:      2,
		AttachmentsDownloaded: 2,
		AttachmentNames:       []string{"a.pdf", "b.pdf"},
		Message:               "ok",
		FinalFolderPath:       "/tmp/out/Acme_Corp_COMPLETED",
		CoupaURL:              "https://coupa.example.com/order_headers/111",
	}
	require.NoError(t, s.ApplyResult(result))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, bom)
	assert.Contains(t, content, "COMPLETED")
	assert.Contains(t, content, "Acme Corp")
	assert.Contains(t, content, "a.pdf; b.pdf")

	// Reload and confirm canonical column order is stable and values stick.
	s2 := New(path, logger)
	rows2, _, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	assert.Equal(t, "Acme Corp", rows2[0].Supplier)
	assert.NotEmpty(t, rows2[0].LastProc)
}

func TestApplyResult_UnknownPOErrors(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER\nPO1\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	require.NoError(t, err)

	err = s.ApplyResult(model.PoResult{DisplayID: "PO999"})
	assert.Error(t, err)
}

func TestSkipComplete(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER,STATUS\nPO1,COMPLETED\nPO2,FAILED\nPO3,NO_ATTACHMENTS\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	require.NoError(t, err)

	items := []model.PoWorkItem{{DisplayID: "PO1"}, {DisplayID: "PO2"}, {DisplayID: "PO3"}}
	remaining := s.SkipComplete(items)
	require.Len(t, remaining, 1)
	assert.Equal(t, "PO2", remaining[0].DisplayID)
}

func TestDuplicatePONumber_LastWriteWins(t *testing.T) {
	path := writeTemp(t, "PO_NUMBER,STATUS\nPO1,\nPO1,\n")
	logger, _ := zap.NewDevelopment()
	s := New(path, logger)
	_, _, err := s.Load()
	require.NoError(t, err)

	// Index points at the last occurrence; applying a result updates that row.
	require.NoError(t, s.ApplyResult(model.PoResult{DisplayID: "PO1", StatusCode: model.StatusFailed, Message: "second"}))
	assert.Equal(t, string(model.StatusFailed), s.rows[1].Status)
}
