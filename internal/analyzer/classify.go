package analyzer

import (
	"strconv"
	"strings"
	"time"

	"ingest/internal/naming"
)

// Column-role thresholds: a column is a measure when almost all of its
// values are numeric and they do not look like dates.
const (
	measureNumericRatio = 0.85
	measureDateRatio    = 0.5
)

// ColumnClass is the measure/dimension classification of one file column.
type ColumnClass struct {
	Header       string  `json:"header"`
	Role         string  `json:"role"` // "measure" or "dimension"
	NumericRatio float64 `json:"numeric_ratio"`
	DateRatio    float64 `json:"date_ratio"`
}

// DimensionProposal suggests a new lookup table for one dimension column.
type DimensionProposal struct {
	SourceColumn string `json:"source_column"`
	Table        string `json:"table"`       // dim_<norm>
	NameColumn   string `json:"name_column"` // <norm>_name, TEXT NOT NULL UNIQUE
	FKField      string `json:"fk_field"`    // <norm>_id on the fact side
}

// ModelProposal is the normalized fact/dimension layout offered when no
// existing table matches well.
type ModelProposal struct {
	Columns    []ColumnClass       `json:"columns"`
	Dimensions []DimensionProposal `json:"dimensions"`
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

func looksLikeDate(v string) bool {
	if len(v) < 6 || len(v) > 30 {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return true
	}
	return false
}

// ClassifyColumns assigns measure/dimension roles from the sampled data
// rows. Null-equivalent cells are ignored in the ratios.
func ClassifyColumns(headers []string, rows [][]string) []ColumnClass {
	out := make([]ColumnClass, len(headers))
	for col, h := range headers {
		nonNull, numeric, dates := 0, 0, 0
		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := strings.TrimSpace(r[col])
			if isNullEquivalent(v) {
				continue
			}
			nonNull++
			if _, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64); err == nil {
				numeric++
			}
			if looksLikeDate(v) {
				dates++
			}
		}

		c := ColumnClass{Header: h, Role: "dimension"}
		if nonNull > 0 {
			c.NumericRatio = float64(numeric) / float64(nonNull)
			c.DateRatio = float64(dates) / float64(nonNull)
		}
		if c.NumericRatio > measureNumericRatio && c.DateRatio < measureDateRatio {
			c.Role = "measure"
		}
		out[col] = c
	}
	return out
}

// isNullEquivalent reports whether a cell value means "no value". Keep in
// sync with the validator's canonicalization.
func isNullEquivalent(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "na", "n/a", "null", "none":
		return true
	}
	return false
}

// ProposeModel turns the dimension columns into new-lookup-table proposals.
func ProposeModel(classes []ColumnClass) ModelProposal {
	p := ModelProposal{Columns: classes}
	for _, c := range classes {
		if c.Role != "dimension" {
			continue
		}
		n := naming.Normalize(c.Header, 57)
		p.Dimensions = append(p.Dimensions, DimensionProposal{
			SourceColumn: c.Header,
			Table:        "dim_" + n,
			NameColumn:   n + "_name",
			FKField:      n + "_id",
		})
	}
	return p
}
