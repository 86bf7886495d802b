package coerce

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ingest/internal/schema"
)

// nullEquivalents are cell values that mean "no value", case-insensitively.
var nullEquivalents = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "null": {}, "none": {},
}

// IsNull reports whether a raw cell is a null equivalent.
func IsNull(v string) bool {
	_, ok := nullEquivalents[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// boolTokens is the fixed boolean vocabulary.
var boolTokens = map[string]bool{
	"true": true, "false": false,
	"yes": true, "no": false,
	"y": true, "n": false,
	"1": true, "0": false,
}

// ParseBool parses the fixed token set, case-insensitively and
// whitespace-tolerantly.
func ParseBool(v string) (value, ok bool) {
	value, ok = boolTokens[strings.ToLower(strings.TrimSpace(v))]
	return value, ok
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
}

var dateOnlyLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// ParseTimestamp parses common timestamp encodings.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, true
		}
	}
	// A bare date is an acceptable timestamp at midnight.
	if d, ok := ParseDate(v); ok {
		return d, true
	}
	return time.Time{}, false
}

// ParseDate parses date-only encodings; timestamps are rejected.
func ParseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range dateOnlyLayouts {
		if d, err := time.Parse(layout, v); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// Value coerces one raw cell to the destination semantic type.
//
// Null equivalents coerce to nil for every type. Unparsable non-null
// values return an error and a nil value; the caller records the error and
// keeps going. TEXT and JSON pass through as trimmed strings.
func Value(semanticType, raw string) (any, error) {
	if IsNull(raw) {
		return nil, nil
	}
	v := strings.TrimSpace(raw)

	switch semanticType {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(strings.ReplaceAll(v, ",", ""), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case schema.TypeDecimal:
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return f, nil
	case schema.TypeBoolean:
		b, ok := ParseBool(v)
		if !ok {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	case schema.TypeDate:
		d, ok := ParseDate(v)
		if !ok {
			return nil, fmt.Errorf("invalid date %q", raw)
		}
		return d, nil
	case schema.TypeDatetime:
		ts, ok := ParseTimestamp(v)
		if !ok {
			return nil, fmt.Errorf("invalid timestamp %q", raw)
		}
		return ts, nil
	default: // TEXT, JSON, unknown
		return v, nil
	}
}

// Canonical renders a coerced value back to its canonical text form, the
// one used for hashing and comparison: trimmed, inner whitespace collapsed,
// null equivalents as an empty sentinel.
func Canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if IsNull(t) {
			return ""
		}
		return strings.Join(strings.Fields(t), " ")
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return strings.Join(strings.Fields(fmt.Sprint(t)), " ")
	}
}

// RowHash hashes the canonicalized values of the mapped columns, in the
// given column order. Identical hashes mean exact in-file duplicates.
func RowHash(columns []string, row map[string]any) string {
	h := sha256.New()
	for _, c := range columns {
		h.Write([]byte(Canonical(row[c])))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two coerced values with null equivalence: nil equals nil
// (and equals an empty canonical form), everything else compares by
// canonical text.
func Equal(a, b any) bool {
	return Canonical(a) == Canonical(b)
}
