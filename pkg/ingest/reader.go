package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

var (
	ErrFileEncoding = errors.New("ingest: file is not valid UTF-8")
	ErrEmptyFile    = errors.New("ingest: file has no header row")
)

// ReadCSV loads a CSV export into string-keyed row maps. Column headers
// are normalized to snake_case ASCII; the delimiter (comma or semicolon)
// is sniffed from the header line. Non-UTF-8 content fails the whole
// file with ErrFileEncoding.
func ReadCSV(path string) ([]map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("ingest: %s: %w", path, ErrFileEncoding)
	}
	// Strip a UTF-8 BOM some spreadsheet exports prepend.
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = sniffDelimiter(raw)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ingest: %s: %w", path, ErrEmptyFile)
		}
		return nil, fmt.Errorf("ingest: parse header of %s: %w", path, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = NormalizeColumn(h)
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: parse %s: %w", path, err)
		}
		row := make(map[string]string, len(cols))
		for i, col := range cols {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sniffDelimiter picks semicolon when the header line carries more of
// them than commas, the common shape of French ERP exports.
func sniffDelimiter(raw []byte) rune {
	line := string(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
