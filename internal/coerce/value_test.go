package coerce

import (
	"testing"
	"time"

	"ingest/internal/schema"
)

// TestIsNull covers the fixed null vocabulary, case-insensitively.
func TestIsNull(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"", "  ", "na", "N/A", "NULL", "None"} {
		if !IsNull(v) {
			t.Fatalf("IsNull(%q) = false", v)
		}
	}
	for _, v := range []string{"0", "nan", "nil", "x"} {
		if IsNull(v) {
			t.Fatalf("IsNull(%q) = true", v)
		}
	}
}

// TestParseBool covers the fixed token set; everything else is rejected
// rather than guessed.
func TestParseBool(t *testing.T) {
	t.Parallel()

	truthy := []string{"true", "YES", " y ", "1"}
	falsy := []string{"False", "no", "N", "0"}
	for _, v := range truthy {
		if got, ok := ParseBool(v); !ok || !got {
			t.Fatalf("ParseBool(%q) = %v,%v", v, got, ok)
		}
	}
	for _, v := range falsy {
		if got, ok := ParseBool(v); !ok || got {
			t.Fatalf("ParseBool(%q) = %v,%v", v, got, ok)
		}
	}
	if _, ok := ParseBool("ja"); ok {
		t.Fatalf("ParseBool should reject unknown tokens")
	}
}

// TestValue exercises coercion per semantic type, including thousands
// separators and the null-to-nil rule.
func TestValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     string
		raw     string
		want    any
		wantErr bool
	}{
		{"null to nil", schema.TypeInteger, "n/a", nil, false},
		{"integer", schema.TypeInteger, " 42 ", int64(42), false},
		{"integer with commas", schema.TypeInteger, "1,234,567", int64(1234567), false},
		{"bad integer", schema.TypeInteger, "12.5", nil, true},
		{"decimal", schema.TypeDecimal, "3.14", 3.14, false},
		{"decimal with commas", schema.TypeDecimal, "1,234.5", 1234.5, false},
		{"bad decimal", schema.TypeDecimal, "abc", nil, true},
		{"boolean", schema.TypeBoolean, "Yes", true, false},
		{"bad boolean", schema.TypeBoolean, "maybe", nil, true},
		{"text passthrough", schema.TypeText, " hello ", "hello", false},
	}
	for _, tt := range tests {
		got, err := Value(tt.typ, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("%s: got %v (%T), want %v", tt.name, got, got, tt.want)
		}
	}
}

// TestValue_Dates verifies date-only parsing rejects timestamps while the
// timestamp type accepts bare dates at midnight.
func TestValue_Dates(t *testing.T) {
	t.Parallel()

	d, err := Value(schema.TypeDate, "2024-01-02")
	if err != nil {
		t.Fatalf("date: %v", err)
	}
	if d.(time.Time).Format("2006-01-02") != "2024-01-02" {
		t.Fatalf("date = %v", d)
	}

	if _, err := Value(schema.TypeDate, "2024-01-02 15:04:05"); err == nil {
		t.Fatalf("date type should reject timestamps")
	}

	ts, err := Value(schema.TypeDatetime, "2024-01-02")
	if err != nil {
		t.Fatalf("datetime from bare date: %v", err)
	}
	if got := ts.(time.Time); got.Hour() != 0 || got.Format("2006-01-02") != "2024-01-02" {
		t.Fatalf("datetime = %v, want midnight", got)
	}

	if _, err := Value(schema.TypeDatetime, "2024-01-02T15:04:05Z"); err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
}

// TestCanonical verifies the canonical text rules used for hashing: null
// collapse, whitespace collapse and stable numeric rendering.
func TestCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"N/A", ""},
		{"  a   b ", "a b"},
		{true, "true"},
		{int64(42), "42"},
		{42, "42"},
		{3.5, "3.5"},
		{time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), "2024-01-02T12:00:00Z"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Fatalf("Canonical(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestRowHash verifies hashing is order-sensitive over the column list and
// null-insensitive over equivalent spellings.
func TestRowHash(t *testing.T) {
	t.Parallel()

	cols := []string{"a", "b"}
	h1 := RowHash(cols, map[string]any{"a": "x", "b": nil})
	h2 := RowHash(cols, map[string]any{"a": "x", "b": "N/A"})
	if h1 != h2 {
		t.Fatalf("null equivalents should hash alike")
	}

	h3 := RowHash(cols, map[string]any{"a": nil, "b": "x"})
	if h1 == h3 {
		t.Fatalf("column order must matter")
	}
}

// TestEqual verifies null equivalence and cross-representation equality.
func TestEqual(t *testing.T) {
	t.Parallel()

	if !Equal(nil, "null") {
		t.Fatalf("nil should equal a null spelling")
	}
	if !Equal(int64(5), "5") {
		t.Fatalf("5 should equal \"5\" canonically")
	}
	if Equal("a", "b") {
		t.Fatalf("a != b")
	}
}
