package core

// csv.go reads import sheets and writes failed-row exports.
//
// Input passes through a UTF-8 decoder that strips a leading BOM and
// replaces invalid byte sequences, so spreadsheet exports from Windows or
// with stray Latin-1 bytes still parse.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/catalog/internal/schema"
)

// errorColumn is the header of the error message in failed-row exports.
const errorColumn = "error"

// ErrNoDataRows is returned for a sheet with a header but no rows.
var ErrNoDataRows = errors.New("no data rows after header")

// NewSheetReader wraps r with BOM stripping and UTF-8 sanitising.
func NewSheetReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ReadSheet parses CSV with a header row. Blank lines before the header and
// empty rows are skipped. Headers are cleaned of quotes and whitespace;
// blank headers become column_N.
func ReadSheet(r io.Reader, name string) (Sheet, error) {
	cr := csv.NewReader(NewSheetReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	sheet := Sheet{Name: name}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("invalid csv %s: %w", name, err)
		}
		if isEmptyRow(record) {
			continue
		}

		if sheet.Headers == nil {
			sheet.Headers = cleanHeaders(record)
			continue
		}

		line, _ := cr.FieldPos(0)
		row := Row{Line: line, Values: make(map[string]string, len(sheet.Headers))}
		for i, h := range sheet.Headers {
			if i < len(record) {
				row.Values[h] = record[i]
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}

	if sheet.Headers == nil {
		return Sheet{}, fmt.Errorf("invalid csv %s: empty file", name)
	}
	if len(sheet.Rows) == 0 {
		return Sheet{}, fmt.Errorf("%s: %w", name, ErrNoDataRows)
	}
	return sheet, nil
}

func cleanHeaders(record []string) []string {
	headers := make([]string, len(record))
	seen := make(map[string]int, len(record))
	for i, h := range record {
		h = schema.CleanCell(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n+1)
		} else {
			seen[h] = 1
		}
		headers[i] = h
	}
	return headers
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ExportFailedRows writes the failed rows of report as CSV: the original
// headers plus an error column, in file order.
func ExportFailedRows(w io.Writer, report *ImportReport) error {
	cw := csv.NewWriter(w)

	header := append(append([]string(nil), report.Headers...), errorColumn)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range report.Failed() {
		for i, h := range report.Headers {
			record[i] = row.Data[h]
		}
		record[len(record)-1] = ""
		if row.Error != nil {
			record[len(record)-1] = row.Error.Message
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write line %d: %w", row.Line, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
