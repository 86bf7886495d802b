package coerce

import (
	"testing"
)

// TestNormalizeEntry covers the accepted loose shapes: bare string, struct
// passthrough, and the historical object keys in precedence order.
func TestNormalizeEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  any
		want MappingEntry
	}{
		{"bare string", " unit_name ", MappingEntry{Field: "unit_name"}},
		{"struct passthrough", MappingEntry{Field: "qty"}, MappingEntry{Field: "qty"}},
		{"field key", map[string]any{"field": "qty"}, MappingEntry{Field: "qty"}},
		{"column key", map[string]any{"column": "qty"}, MappingEntry{Field: "qty"}},
		{"target_column key", map[string]any{"target_column": "qty"}, MappingEntry{Field: "qty"}},
		{"target_field key", map[string]any{"target_field": "qty"}, MappingEntry{Field: "qty"}},
		{
			"field beats column",
			map[string]any{"field": "a", "column": "b"},
			MappingEntry{Field: "a"},
		},
		{
			"full object",
			map[string]any{
				"field":        "buyer_id",
				"master_model": "dim_buyer",
				"lookup_field": "buyer_name",
				"table":        "fact_production",
			},
			MappingEntry{Field: "buyer_id", MasterModel: "dim_buyer", LookupField: "buyer_name", Table: "fact_production"},
		},
		{
			"fill only",
			map[string]any{"fill_mode": "constant", "fill_value": "__TODAY__"},
			MappingEntry{FillMode: "constant", FillValue: "__TODAY__"},
		},
	}
	for _, tt := range tests {
		got, err := NormalizeEntry(tt.raw)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

// TestNormalizeEntry_Rejects verifies entries with neither a target field
// nor a fill mode, and unsupported types, error out.
func TestNormalizeEntry_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeEntry(map[string]any{"lookup_field": "name"}); err == nil {
		t.Fatalf("expected error for entry without field or fill mode")
	}
	if _, err := NormalizeEntry(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

// TestNormalizeMapping verifies bad entries are dropped and reported while
// good ones survive.
func TestNormalizeMapping(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"Unit": "unit_name",
		"Bad":  123,
	}
	out, errs := NormalizeMapping(raw)
	if len(out) != 1 || out["Unit"].Field != "unit_name" {
		t.Fatalf("out = %+v", out)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v", errs)
	}
}

// TestFillToken covers the historical spellings.
func TestFillToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"today", TokenToday, true},
		{"__TODAY__", TokenToday, true},
		{"NOW", TokenNow, true},
		{"__now__", TokenNow, true},
		{"current user", TokenCurrentUser, true},
		{"__CURRENT_USER__", TokenCurrentUser, true},
		{"current_user", TokenCurrentUser, true},
		{"2024-01-02", "2024-01-02", false},
	}
	for _, tt := range tests {
		got, ok := FillToken(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("FillToken(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
