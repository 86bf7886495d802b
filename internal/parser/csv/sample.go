// Package csv reads delimited text files into raw row samples for analysis.
package csv

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
)

// SniffDelimiter picks the most frequent candidate delimiter in the first
// line of data. Defaults to comma when nothing stands out.
func SniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	best := ','
	bestCount := strings.Count(string(line), ",")
	for _, cand := range []rune{';', '\t', '|'} {
		if c := strings.Count(string(line), string(cand)); c > bestCount {
			best = cand
			bestCount = c
		}
	}
	return best
}

// ReadSample parses up to maxRows raw rows (including any header rows; header
// detection happens downstream). maxRows <= 0 reads the whole file.
//
// Parsing is best-effort:
//   - a UTF-8 BOM is stripped
//   - the delimiter is sniffed from the first line
//   - quoting is lazy, field counts may vary per row
//   - cells are whitespace-trimmed
func ReadSample(r io.Reader, maxRows int) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = SniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows := make([][]string, 0, 128)
	for maxRows <= 0 || len(rows) < maxRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return rows, nil
}
