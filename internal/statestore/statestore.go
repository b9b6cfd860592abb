// Package statestore owns the tabular input/state file: parsing it once,
// validating PO identifiers, and serializing per-PO results back in place:
// the detected delimiter is kept, the file is re-emitted as UTF-8 with BOM
// and minimal quoting, and columns are written in canonical order followed
// by unknown columns in their original order.
//
// It is exercised exclusively by the Scheduler's single apply loop;
// nothing in this package defends against concurrent callers because
// there are never any.
package statestore

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
)

// ErrInputMissing is returned by Load when the input file does not exist or
// cannot be read.
var ErrInputMissing = errors.New("input file is missing or unreadable")

// ErrInputMalformed is returned by Load on an unrecoverable parse error.
var ErrInputMalformed = errors.New("input file could not be parsed")

// canonicalColumns is the fixed, declared writable column order.
var canonicalColumns = []string{
	"PO_NUMBER", "STATUS", "SUPPLIER", "ATTACHMENTS_FOUND",
	"ATTACHMENTS_DOWNLOADED", "AttachmentName", "LAST_PROCESSED",
	"ERROR_MESSAGE", "DOWNLOAD_FOLDER", "COUPA_URL",
}

const (
	messageDisplayWidth = 500
	lineSeparator       = "\n"
	bom                 = "\xEF\xBB\xBF"
)

// Layout records what Load learned about the file's shape: the detected
// delimiter, the header exactly as read, and the non-canonical columns in
// their original order. write() reuses the delimiter and the unknown
// columns; whether the input had a BOM is not recorded.
type Layout struct {
	Delimiter   rune
	Columns     []string // full header order as read, verbatim
	UnknownCols []string // subset of Columns not in canonicalColumns
}

// Store is the in-memory owner of one input file's rows and layout. All
// reads happen once in Load; all writes happen through ApplyResult.
type Store struct {
	path    string
	logger  *zap.Logger
	isExcel bool // detected by file extension: .xlsx uses excelize, everything else the CSV path

	layout Layout
	rows   []*model.InputRow
	index  map[string]int // normalized PO_NUMBER -> rows index
}

// New creates a Store for path. Nothing is read until Load is called.
func New(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger, index: map[string]int{}}
}

// Load reads and parses the input file once, detecting the encoding from
// the whole file's bytes and the delimiter from its first non-empty line.
func (s *Store) Load() ([]*model.InputRow, Layout, error) {
	s.isExcel = strings.EqualFold(filepath.Ext(s.path), ".xlsx")

	records, delim, err := s.readRecords()
	if err != nil {
		return nil, Layout{}, err
	}
	if len(records) == 0 {
		return nil, Layout{}, fmt.Errorf("%w: no header row", ErrInputMalformed)
	}

	header := records[0]
	layout := Layout{Delimiter: delim, Columns: header}
	canon := map[string]bool{}
	for _, c := range canonicalColumns {
		canon[strings.ToUpper(c)] = true
	}
	for _, c := range header {
		if !canon[strings.ToUpper(strings.TrimSpace(c))] {
			layout.UnknownCols = append(layout.UnknownCols, c)
		}
	}

	colIdx := map[string]int{}
	for i, c := range header {
		colIdx[strings.ToUpper(strings.TrimSpace(c))] = i
	}
	if _, ok := colIdx["PO_NUMBER"]; !ok {
		return nil, Layout{}, fmt.Errorf("%w: missing PO_NUMBER column", ErrInputMalformed)
	}

	rows := make([]*model.InputRow, 0, len(records)-1)
	get := func(rec []string, col string) string {
		idx, ok := colIdx[col]
		if !ok || idx >= len(rec) {
			return ""
		}
		return rec[idx]
	}

	for _, rec := range records[1:] {
		row := &model.InputRow{
			PONumber:      get(rec, "PO_NUMBER"),
			Status:        get(rec, "STATUS"),
			Supplier:      get(rec, "SUPPLIER"),
			AttFound:      get(rec, "ATTACHMENTS_FOUND"),
			AttDownload:   get(rec, "ATTACHMENTS_DOWNLOADED"),
			AttNames:      get(rec, "ATTACHMENTNAME"),
			LastProc:      get(rec, "LAST_PROCESSED"),
			ErrMessage:    get(rec, "ERROR_MESSAGE"),
			DownloadDir:   get(rec, "DOWNLOAD_FOLDER"),
			CoupaURL:      get(rec, "COUPA_URL"),
			UnknownCols:   append([]string(nil), layout.UnknownCols...),
			UnknownValues: map[string]string{},
		}
		for _, uc := range layout.UnknownCols {
			row.UnknownValues[uc] = get(rec, strings.ToUpper(strings.TrimSpace(uc)))
		}
		rows = append(rows, row)
	}

	s.layout = layout
	s.rows = rows
	s.rebuildIndex()

	s.logger.Info("loaded input file",
		zap.String("path", s.path), zap.Int("rows", len(rows)),
		zap.String("delimiter", string(delim)))

	return rows, layout, nil
}

// readRecords returns the raw header+data rows plus the detected delimiter
// (meaningful only for the delimited-text path; xlsx reports ',' since Layout
// still needs a rune for write() to fall back to if the file is ever
// re-emitted as text). Dispatches on s.isExcel, set by Load from the file
// extension: the original tabular path is untouched, and .xlsx is purely
// additive.
func (s *Store) readRecords() ([][]string, rune, error) {
	if s.isExcel {
		info, err := os.Stat(s.path)
		if err != nil {
			return nil, ',', fmt.Errorf("%w: %s: %v", ErrInputMissing, s.path, err)
		}
		if info.Size() == 0 {
			return nil, ',', fmt.Errorf("%w: %s is empty", ErrInputMissing, s.path)
		}
		records, err := readXLSX(s.path)
		if err != nil {
			return nil, ',', err
		}
		return records, ',', nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, ',', fmt.Errorf("%w: %s: %v", ErrInputMissing, s.path, err)
	}
	if len(raw) == 0 {
		return nil, ',', fmt.Errorf("%w: %s is empty", ErrInputMissing, s.path)
	}

	text, err := decode(raw)
	if err != nil {
		return nil, ',', fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}

	delim := sniffDelimiter(text)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, delim, fmt.Errorf("%w: %v", ErrInputMalformed, err)
	}
	return records, delim, nil
}

func (s *Store) rebuildIndex() {
	s.index = make(map[string]int, len(s.rows))
	for i, r := range s.rows {
		s.index[model.NormalizeKey(r.PONumber)] = i
	}
}

// FilterValidPOs applies the PO validation rule: after stripping a
// recognized prefix token, the remainder must be non-empty and all
// decimal digits. Invalid rows are preserved in place (not dropped) and
// marked FAILED with "Invalid PO format" — the caller is expected to have
// already called Load.
func (s *Store) FilterValidPOs(prefixTokens []string) (workItems []model.PoWorkItem, invalidCount int) {
	for _, row := range s.rows {
		numericID, ok := model.StripPrefix(row.PONumber, prefixTokens)
		if !ok {
			invalidCount++
			row.Status = string(model.StatusFailed)
			row.ErrMessage = "Invalid PO format"
			row.LastProc = time.Now().Format(time.RFC3339)
			continue
		}
		workItems = append(workItems, model.PoWorkItem{
			DisplayID: row.PONumber,
			NumericID: numericID,
		})
	}
	return workItems, invalidCount
}

// SkipComplete removes from workItems any PO whose current row STATUS is
// already one of the terminal "no more work needed" codes, implementing
// the re-run skip policy. Rows are matched by normalized PO_NUMBER.
func (s *Store) SkipComplete(workItems []model.PoWorkItem) []model.PoWorkItem {
	out := make([]model.PoWorkItem, 0, len(workItems))
	for _, wi := range workItems {
		idx, ok := s.index[model.NormalizeKey(wi.DisplayID)]
		if ok {
			st := model.StatusCode(strings.TrimSpace(s.rows[idx].Status))
			if st == model.StatusCompleted || st == model.StatusNoAttachments {
				continue
			}
		}
		out = append(out, wi)
	}
	return out
}

// ApplyResult updates, in place, the row matching result.DisplayID
// (case/whitespace-insensitive) and rewrites the file, retrying once after
// a short backoff on write failure before surfacing the error to the
// caller as a state-write failure.
func (s *Store) ApplyResult(result model.PoResult) error {
	idx, ok := s.index[model.NormalizeKey(result.DisplayID)]
	if !ok {
		return fmt.Errorf("applyResult: no row matches PO_NUMBER %q", result.DisplayID)
	}

	row := s.rows[idx]
	row.Status = string(result.StatusCode)
	row.Supplier = result.SupplierName
	row.AttFound = strconv.Itoa(result.AttachmentsFound)
	row.AttDownload = strconv.Itoa(result.AttachmentsDownloaded)
	row.AttNames = strings.Join(result.AttachmentNames, "; ")
	row.LastProc = time.Now().Format(time.RFC3339)
	row.ErrMessage = truncate(result.Message, messageDisplayWidth)
	row.DownloadDir = result.FinalFolderPath
	row.CoupaURL = result.CoupaURL

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if err = s.write(); err == nil {
			return nil
		}
		if attempt == 1 {
			s.logger.Warn("state file write failed, retrying",
				zap.String("po", result.DisplayID), zap.Error(err))
			time.Sleep(200 * time.Millisecond)
		}
	}
	s.logger.Error("state file write failed twice, continuing without persisting this update",
		zap.String("po", result.DisplayID), zap.Error(err))
	return fmt.Errorf("applyResult: write failed: %w", err)
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width]
}

// write re-emits the full file: UTF-8 with BOM, the detected delimiter,
// '\n' line endings, minimal quoting, canonical column order followed by
// unknown columns in their original order. Dispatches to writeXLSX for
// spreadsheet input, keeping the column-order/unknown-column contract
// identical across both formats.
func (s *Store) write() error {
	columns := append(append([]string{}, canonicalColumns...), s.layout.UnknownCols...)

	if s.isExcel {
		return writeXLSX(s.path, columns, s.rows, rowValue)
	}

	var buf bytes.Buffer
	buf.WriteString(bom)

	w := csv.NewWriter(&buf)
	w.Comma = s.layout.Delimiter
	w.UseCRLF = false

	if err := w.Write(columns); err != nil {
		return err
	}
	for _, row := range s.rows {
		rec := make([]string, 0, len(columns))
		for _, c := range columns {
			rec = append(rec, rowValue(row, c))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	out := strings.ReplaceAll(buf.String(), "\r\n", lineSeparator)
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(out), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func rowValue(row *model.InputRow, column string) string {
	switch strings.ToUpper(column) {
	case "PO_NUMBER":
		return row.PONumber
	case "STATUS":
		return row.Status
	case "SUPPLIER":
		return row.Supplier
	case "ATTACHMENTS_FOUND":
		return row.AttFound
	case "ATTACHMENTS_DOWNLOADED":
		return row.AttDownload
	case "ATTACHMENTNAME":
		return row.AttNames
	case "LAST_PROCESSED":
		return row.LastProc
	case "ERROR_MESSAGE":
		return row.ErrMessage
	case "DOWNLOAD_FOLDER":
		return row.DownloadDir
	case "COUPA_URL":
		return row.CoupaURL
	default:
		return row.UnknownValues[column]
	}
}

// decode implements the encoding fallback chain: UTF-8 with BOM, then
// UTF-8, then Latin-1.
func decode(raw []byte) (string, error) {
	if bytes.HasPrefix(raw, []byte(bom)) {
		return string(bytes.TrimPrefix(raw, []byte(bom))), nil
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	reader := transform.NewReader(bytes.NewReader(raw), charmap.ISO8859_1.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to decode as Latin-1: %w", err)
	}
	return string(decoded), nil
}

// sniffDelimiter looks at the first non-empty line and picks ',' or ';'
// based on which occurs more often on that line. It is a simple count:
// occurrences inside quoted fields are counted too, and ties go to ','.
func sniffDelimiter(text string) rune {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		commas := strings.Count(line, ",")
		semis := strings.Count(line, ";")
		if semis > commas {
			return ';'
		}
		return ','
	}
	return ','
}
