package schema

import (
	"context"
	"reflect"
	"testing"
)

//
// SemanticType
//

// TestSemanticType verifies folding of native type names into the semantic
// vocabulary. Matching is substring-based and case-insensitive.
func TestSemanticType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		dbType string
		want   string
	}{
		{"int4", "integer", TypeInteger},
		{"bigint", "BIGINT", TypeInteger},
		{"numeric", "numeric(10,2)", TypeDecimal},
		{"double precision", "double precision", TypeDecimal},
		{"float", "float8", TypeDecimal},
		{"timestamptz", "timestamp with time zone", TypeDatetime},
		{"mssql datetime", "datetime2", TypeDatetime},
		{"date", "date", TypeDate},
		{"bool", "boolean", TypeBoolean},
		{"jsonb", "jsonb", TypeJSON},
		{"varchar", "character varying(255)", TypeText},
		{"unknown", "geometry", TypeText},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SemanticType(tt.dbType); got != tt.want {
				t.Fatalf("SemanticType(%q) = %q, want %q", tt.dbType, got, tt.want)
			}
		})
	}
}

//
// SplitQualified / CandidateSchemas
//

func TestSplitQualified(t *testing.T) {
	t.Parallel()

	if s, n := SplitQualified("public.orders"); s != "public" || n != "orders" {
		t.Fatalf("SplitQualified(public.orders) = (%q,%q)", s, n)
	}
	if s, n := SplitQualified("orders"); s != "" || n != "orders" {
		t.Fatalf("SplitQualified(orders) = (%q,%q)", s, n)
	}
}

// TestCandidateSchemas verifies the fallback chain: given schema, then no
// schema, then "public", without duplicates.
func TestCandidateSchemas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		given   string
		defSch  string
		want    []string
	}{
		{"explicit schema", "sales", "public", []string{"sales", "public", ""}},
		{"no explicit", "", "public", []string{"", "public"}},
		{"default equals public", "public", "public", []string{"public", ""}},
		{"all empty", "", "", []string{"", "public"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CandidateSchemas(tt.given, tt.defSch); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("CandidateSchemas(%q,%q) = %v, want %v", tt.given, tt.defSch, got, tt.want)
			}
		})
	}
}

//
// TableDefinition helpers
//

func TestTableDefinition_HasColumn(t *testing.T) {
	t.Parallel()

	var nilDef *TableDefinition
	if nilDef.HasColumn("x") {
		t.Fatalf("nil definition reported a column")
	}

	def := &TableDefinition{
		Name:    "orders",
		Columns: map[string]Column{"order_id": {Name: "order_id"}},
	}
	if !def.HasColumn("order_id") {
		t.Fatalf("missing order_id")
	}
	if def.HasColumn("qty") {
		t.Fatalf("unexpected qty")
	}
}

func TestTableDefinition_QualifiedName(t *testing.T) {
	t.Parallel()

	def := &TableDefinition{Schema: "public", Name: "orders"}
	if got := def.QualifiedName(); got != "public.orders" {
		t.Fatalf("QualifiedName = %q", got)
	}
	def.Schema = ""
	if got := def.QualifiedName(); got != "orders" {
		t.Fatalf("QualifiedName = %q", got)
	}
}

//
// Register / Open
//

func TestRegister_DuplicatePanics(t *testing.T) {
	t.Parallel()

	Register("testdriver", func(_ context.Context, _ OpenConfig) (Reflector, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate Register")
		}
	}()
	Register("testdriver", func(_ context.Context, _ OpenConfig) (Reflector, error) { return nil, nil })
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), OpenConfig{Driver: "nope"}); err == nil {
		t.Fatalf("expected error for unregistered driver")
	}
	if _, err := Open(context.Background(), OpenConfig{}); err == nil {
		t.Fatalf("expected error for empty driver")
	}
}
