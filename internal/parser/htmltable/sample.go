// Package htmltable reads HTML table markup into raw row samples.
//
// Several upstream systems export "spreadsheets" that are actually an HTML
// <table> saved with an .xls extension. This parser handles those files.
package htmltable

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IsHTML sniffs whether data looks like HTML markup rather than a real
// binary workbook or delimited text.
func IsHTML(data []byte) bool {
	trim := strings.TrimSpace(string(data))
	if trim == "" {
		return false
	}
	if !strings.HasPrefix(trim, "<") {
		return false
	}
	lower := strings.ToLower(trim)
	return strings.Contains(lower, "<table") || strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

// ReadSample extracts up to maxRows rows from the first <table> in the
// document; maxRows <= 0 reads every row. Cell text is
// whitespace-normalized; th and td are treated alike (header detection
// happens downstream).
func ReadSample(r io.Reader, maxRows int) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no <table> element found")
	}

	rows := make([][]string, 0, 64)
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		var rec []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			rec = append(rec, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(rec) == 0 {
			return true
		}
		rows = append(rows, rec)
		return maxRows <= 0 || len(rows) < maxRows
	})
	return rows, nil
}
