package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"ingest/internal/schema"
)

func newTestReflector(t *testing.T) *Reflector {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "dest.db")
	r, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func mustExec(t *testing.T, r *Reflector, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := r.DB().ExecContext(context.Background(), s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

// TestReflect verifies column, primary-key, unique and foreign-key
// reflection against a real database file.
func TestReflect(t *testing.T) {
	t.Parallel()

	r := newTestReflector(t)
	mustExec(t, r,
		`CREATE TABLE buyers (
			buyer_id INTEGER PRIMARY KEY,
			buyer_name TEXT NOT NULL UNIQUE,
			active BOOLEAN,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE orders (
			order_id INTEGER PRIMARY KEY,
			buyer_id INTEGER NOT NULL REFERENCES buyers(buyer_id),
			qty NUMERIC,
			order_date DATE
		)`,
	)

	def, err := r.Reflect(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}

	if !reflect.DeepEqual(def.PrimaryKey, []string{"order_id"}) {
		t.Fatalf("PrimaryKey = %v", def.PrimaryKey)
	}
	if got := def.Columns["qty"].SemanticType; got != schema.TypeDecimal {
		t.Fatalf("qty semantic type = %q", got)
	}
	if got := def.Columns["order_date"].SemanticType; got != schema.TypeDate {
		t.Fatalf("order_date semantic type = %q", got)
	}
	if def.Columns["buyer_id"].Nullable {
		t.Fatalf("buyer_id should be NOT NULL")
	}
	if len(def.ForeignKeys) != 1 || def.ForeignKeys[0].RefTable != "buyers" {
		t.Fatalf("ForeignKeys = %+v", def.ForeignKeys)
	}
	if def.Columns["buyer_id"].References == nil {
		t.Fatalf("buyer_id missing References")
	}

	buyers, err := r.Reflect(context.Background(), "buyers")
	if err != nil {
		t.Fatalf("Reflect buyers: %v", err)
	}
	foundUnique := false
	for _, uc := range buyers.Unique {
		if reflect.DeepEqual(uc.Columns, []string{"buyer_name"}) {
			foundUnique = true
		}
	}
	if !foundUnique {
		t.Fatalf("buyer_name unique constraint not reflected: %+v", buyers.Unique)
	}
}

// TestReflect_MissingTable verifies ErrTableNotFound surfaces for unknown
// tables.
func TestReflect_MissingTable(t *testing.T) {
	t.Parallel()

	r := newTestReflector(t)
	_, err := r.Reflect(context.Background(), "nope")
	if err == nil {
		t.Fatalf("expected error for missing table")
	}
}

// TestReflect_SchemaQualifierIgnored verifies "schema.table" resolves to the
// bare table.
func TestReflect_SchemaQualifierIgnored(t *testing.T) {
	t.Parallel()

	r := newTestReflector(t)
	mustExec(t, r, `CREATE TABLE units (unit_id INTEGER PRIMARY KEY, unit_name TEXT)`)

	def, err := r.Reflect(context.Background(), "public.units")
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if def.Name != "units" {
		t.Fatalf("Name = %q", def.Name)
	}
}

func TestTables(t *testing.T) {
	t.Parallel()

	r := newTestReflector(t)
	mustExec(t, r,
		`CREATE TABLE b_second (id INTEGER)`,
		`CREATE TABLE a_first (id INTEGER)`,
	)

	got, err := r.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a_first", "b_second"}) {
		t.Fatalf("Tables = %v", got)
	}
}
