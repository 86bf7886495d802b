// Package coerce applies an approved column mapping to file rows: fill
// strategies, type coercion against the destination column types, duplicate
// detection and a structured validation report.
package coerce

import (
	"fmt"
	"strings"
)

// Fill modes.
const (
	FillConstant     = "constant"
	FillAutoSequence = "auto_sequence"
)

// Convenience fill tokens expanded at apply time.
const (
	TokenToday       = "today"
	TokenNow         = "now"
	TokenCurrentUser = "current user"
)

// MappingEntry is the canonical form of one source-header mapping. Loose
// historical shapes (a bare string, or an object with field/column/
// target_column/target_field keys) are normalized into this struct at the
// boundary; the rest of the pipeline only ever sees this form.
type MappingEntry struct {
	Field     string `json:"field"`
	FillMode  string `json:"fill_mode,omitempty"`
	FillValue string `json:"fill_value,omitempty"`

	// Master-data resolution: look up the source value in MasterModel by
	// LookupField and map it to that row's id.
	MasterModel string `json:"master_model,omitempty"`
	LookupField string `json:"lookup_field,omitempty"`

	// Table routes this column to a specific destination table for
	// multi-table fan-out. Empty means the session's target table.
	Table string `json:"table,omitempty"`
}

// NormalizeEntry converts one loose mapping value into canonical form.
// Accepted shapes:
//   - "column_name"
//   - {"field": ...} / {"column": ...} / {"target_column": ...} / {"target_field": ...}
//     plus optional fill_mode, fill_value, master_model, lookup_field, table.
func NormalizeEntry(raw any) (MappingEntry, error) {
	switch v := raw.(type) {
	case string:
		return MappingEntry{Field: strings.TrimSpace(v)}, nil
	case MappingEntry:
		return v, nil
	case map[string]any:
		e := MappingEntry{}
		for _, key := range []string{"field", "column", "target_column", "target_field"} {
			if s, ok := v[key].(string); ok && s != "" {
				e.Field = strings.TrimSpace(s)
				break
			}
		}
		if s, ok := v["fill_mode"].(string); ok {
			e.FillMode = strings.TrimSpace(s)
		}
		if s, ok := v["fill_value"].(string); ok {
			e.FillValue = s
		}
		if s, ok := v["master_model"].(string); ok {
			e.MasterModel = strings.TrimSpace(s)
		}
		if s, ok := v["lookup_field"].(string); ok {
			e.LookupField = strings.TrimSpace(s)
		}
		if s, ok := v["table"].(string); ok {
			e.Table = strings.TrimSpace(s)
		}
		if e.Field == "" && e.FillMode == "" {
			return e, fmt.Errorf("mapping entry has no target field")
		}
		return e, nil
	default:
		return MappingEntry{}, fmt.Errorf("unsupported mapping entry type %T", raw)
	}
}

// NormalizeMapping converts a whole loose mapping document. Entries that
// cannot be normalized are dropped and reported.
func NormalizeMapping(raw map[string]any) (map[string]MappingEntry, []error) {
	out := make(map[string]MappingEntry, len(raw))
	var errs []error
	for header, v := range raw {
		e, err := NormalizeEntry(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("column %q: %w", header, err))
			continue
		}
		out[header] = e
	}
	return out, errs
}

// FillToken canonicalizes the historical token spellings ("__TODAY__",
// "__NOW__", "__CURRENT_USER__") to their plain forms. Non-token values
// come back unchanged with ok=false.
func FillToken(v string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case TokenToday, "__today__":
		return TokenToday, true
	case TokenNow, "__now__":
		return TokenNow, true
	case TokenCurrentUser, "__current_user__", "current_user":
		return TokenCurrentUser, true
	}
	return v, false
}
