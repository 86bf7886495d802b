// Package xlsx reads spreadsheet files into raw row samples for analysis.
package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadSample reads up to maxRows raw rows from the first sheet of an xlsx
// workbook; maxRows <= 0 reads the whole sheet. Cells come back as display
// strings; fully-empty rows are dropped.
func ReadSample(r io.Reader, maxRows int) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	rows := make([][]string, 0, len(raw))
	for _, rec := range raw {
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
		empty := true
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
			if rec[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		rows = append(rows, rec)
	}
	return rows, nil
}
