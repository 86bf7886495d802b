package importer

import (
	"strings"
	"testing"

	"ingest/internal/schema"
)

// TestInsertSQL verifies placeholder numbering across rows and the
// RETURNING clause.
func TestInsertSQL(t *testing.T) {
	t.Parallel()

	q := insertSQL("public", "fact_production", []string{"unit_name", "qty"}, 2, []string{"id"})
	want := `INSERT INTO "public"."fact_production" ("unit_name", "qty") VALUES ($1, $2), ($3, $4) RETURNING "id"`
	if q != want {
		t.Fatalf("got  %s\nwant %s", q, want)
	}

	// No schema, no returning.
	q = insertSQL("", "t", []string{"a"}, 1, nil)
	if q != `INSERT INTO "t" ("a") VALUES ($1)` {
		t.Fatalf("got %s", q)
	}
}

// TestUpsertSQL verifies the EXCLUDED update set excludes key columns and
// the key-only degenerate case becomes DO NOTHING.
func TestUpsertSQL(t *testing.T) {
	t.Parallel()

	q := upsertSQL("public", "t", []string{"code", "name", "qty"}, []string{"code"}, 1, []string{"code"})
	for _, want := range []string{
		`ON CONFLICT ("code") DO UPDATE SET`,
		`"name" = EXCLUDED."name"`,
		`"qty" = EXCLUDED."qty"`,
		`RETURNING "code"`,
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("missing %q in %s", want, q)
		}
	}
	if strings.Contains(q, `"code" = EXCLUDED."code"`) {
		t.Fatalf("key column must not self-update: %s", q)
	}

	q = upsertSQL("", "t", []string{"code"}, []string{"code"}, 1, nil)
	if !strings.Contains(q, `ON CONFLICT ("code") DO NOTHING`) {
		t.Fatalf("key-only upsert = %s", q)
	}
}

// TestCreateTableSQL verifies the synthesized serial key and per-column
// types.
func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl := createTableSQL("public", "fact_x", []string{"name", "qty"},
		map[string]string{"name": "VARCHAR(50)", "qty": "INTEGER"})
	for _, want := range []string{
		`CREATE TABLE "public"."fact_x"`,
		"id BIGSERIAL PRIMARY KEY",
		`"name" VARCHAR(50)`,
		`"qty" INTEGER`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("missing %q in %s", want, ddl)
		}
	}
}

// TestIndexAndConstraintNames pins the prefixes and the length limits.
func TestIndexAndConstraintNames(t *testing.T) {
	t.Parallel()

	if got := indexName("fact_production", "buyer_id"); got != "idx_fact_production_buyer_id" {
		t.Fatalf("index = %s", got)
	}
	long := strings.Repeat("x", 80)
	if got := indexName(long, "c"); len(got) != 60 {
		t.Fatalf("index len = %d, want 60", len(got))
	}
	if got := fkName(long, "c"); len(got) != 62 {
		t.Fatalf("fk len = %d, want 62", len(got))
	}
	if got := fkName("t", "c"); got != "fk_t_c" {
		t.Fatalf("fk = %s", got)
	}
}

// TestSyncSequenceSQL verifies the pg_get_serial_sequence form.
func TestSyncSequenceSQL(t *testing.T) {
	t.Parallel()

	q := syncSequenceSQL("public", "t", "id")
	for _, want := range []string{
		"pg_get_serial_sequence('public.t', 'id')",
		`COALESCE((SELECT MAX("id") FROM "public"."t"), 0) + 1`,
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("missing %q in %s", want, q)
		}
	}
}

func TestRestartSequenceSQL(t *testing.T) {
	t.Parallel()

	got := restartSequenceSQL("public", "t", "id", 42)
	want := `ALTER SEQUENCE "public"."t_id_seq" RESTART WITH 42`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRenameColumnSQL(t *testing.T) {
	t.Parallel()

	got := renameColumnSQL("public", "t", "__newcol__: qty", "qty")
	want := `ALTER TABLE "public"."t" RENAME COLUMN "__newcol__: qty" TO "qty"`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// TestKeyColumns verifies the primary-key/id fallback order.
func TestKeyColumns(t *testing.T) {
	t.Parallel()

	withPK := &schema.TableDefinition{
		PrimaryKey: []string{"code"},
		Columns:    map[string]schema.Column{"code": {Name: "code"}},
	}
	if got := keyColumns(withPK); len(got) != 1 || got[0] != "code" {
		t.Fatalf("pk = %v", got)
	}

	withID := &schema.TableDefinition{
		Columns: map[string]schema.Column{"id": {Name: "id"}},
	}
	if got := keyColumns(withID); len(got) != 1 || got[0] != "id" {
		t.Fatalf("id fallback = %v", got)
	}

	if got := keyColumns(&schema.TableDefinition{}); got != nil {
		t.Fatalf("keyless = %v", got)
	}
	if got := keyColumns(nil); got != nil {
		t.Fatalf("nil def = %v", got)
	}
}

// TestIsAutoIDKey verifies serial detection via the nextval default.
func TestIsAutoIDKey(t *testing.T) {
	t.Parallel()

	serial := &schema.TableDefinition{
		PrimaryKey: []string{"id"},
		Columns:    map[string]schema.Column{"id": {Name: "id", Default: "nextval('t_id_seq'::regclass)"}},
	}
	if !isAutoIDKey(serial, []string{"id"}) {
		t.Fatalf("serial id should be auto")
	}

	natural := &schema.TableDefinition{
		PrimaryKey: []string{"code"},
		Columns:    map[string]schema.Column{"code": {Name: "code"}},
	}
	if isAutoIDKey(natural, []string{"code"}) {
		t.Fatalf("natural key is not auto")
	}
	if isAutoIDKey(serial, []string{"id", "other"}) {
		t.Fatalf("composite key is not auto")
	}
}

// TestRollbackDeleteSQL pins the text-cast ANY form lineage ids rely on.
func TestRollbackDeleteSQL(t *testing.T) {
	t.Parallel()

	q := rollbackDeleteSQL("public", "t", "id")
	if q != `DELETE FROM "public"."t" WHERE "id"::text = ANY($1)` {
		t.Fatalf("got %s", q)
	}
}

// TestRollbackDeleteTupleSQL pins the composite-key tuple form and its
// row-major placeholder numbering.
func TestRollbackDeleteTupleSQL(t *testing.T) {
	t.Parallel()

	q := rollbackDeleteTupleSQL("public", "t", []string{"order_date", "unit"}, 2)
	want := `DELETE FROM "public"."t" WHERE ("order_date"::text, "unit"::text) IN (($1, $2), ($3, $4))`
	if q != want {
		t.Fatalf("got  %s\nwant %s", q, want)
	}
}

// TestDedupColumns verifies the unique-constraint preference and the
// full-row fallback.
func TestDedupColumns(t *testing.T) {
	t.Parallel()

	def := &schema.TableDefinition{
		Unique: []schema.UniqueConstraint{
			{Name: "u_ref", Columns: []string{"ref", "batch"}},
			{Name: "u_name", Columns: []string{"name"}},
		},
	}

	// First constraint not fully covered by the written columns; the
	// second one is.
	if got := dedupColumns(def, []string{"name", "qty"}); len(got) != 1 || got[0] != "name" {
		t.Fatalf("covered constraint = %v", got)
	}
	// Fully covered first constraint wins.
	if got := dedupColumns(def, []string{"ref", "batch", "qty"}); len(got) != 2 || got[0] != "ref" {
		t.Fatalf("first constraint = %v", got)
	}
	// Nothing covered: hash every written column.
	if got := dedupColumns(def, []string{"qty"}); len(got) != 1 || got[0] != "qty" {
		t.Fatalf("fallback = %v", got)
	}
	if got := dedupColumns(nil, []string{"a", "b"}); len(got) != 2 {
		t.Fatalf("nil def = %v", got)
	}
}
