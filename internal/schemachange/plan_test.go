package schemachange

import (
	"strings"
	"testing"
)

func snap(tables map[string]map[string]bool) *Snapshot {
	return &Snapshot{Schema: "public", Tables: tables, PKConstraint: map[string]string{}}
}

// TestBuildPlan_CreateTable verifies the synthesized id and timestamp
// columns, the type allowlist and identifier normalization.
func TestBuildPlan_CreateTable(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(snap(nil), []Proposal{{
		ID:     "p1",
		Action: ActionCreateTable,
		Table:  "newtable: Buyer Registry",
		Columns: []ColumnSpec{
			{Name: "Buyer Name", Type: "TEXT", NotNull: true},
			{Name: "score", Type: "DROP TABLE x"}, // not in allowlist
		},
	}})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Statements) != 1 {
		t.Fatalf("statements = %v", plan.Statements)
	}
	ddl := plan.Statements[0]

	for _, want := range []string{
		`CREATE TABLE "public"."buyer_registry"`,
		`"buyer_registry_id" BIGSERIAL PRIMARY KEY`,
		`"buyer_name" TEXT NOT NULL`,
		`"score" TEXT`, // fell back from the bogus type
		"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
		"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
	if plan.NameMap["p1"] != "buyer_registry" {
		t.Fatalf("NameMap = %v", plan.NameMap)
	}
}

// TestBuildPlan_CreateTableRole verifies the fact/ref role prefix and that
// unknown roles are coerced to fact.
func TestBuildPlan_CreateTableRole(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(snap(nil), []Proposal{
		{ID: "f", Action: ActionCreateTable, Role: "fact", Table: "Sewing Production"},
		{ID: "r", Action: ActionCreateTable, Role: "ref", Table: "Buyers"},
		{ID: "d", Action: ActionCreateTable, Role: "dimension", Table: "Units"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.NameMap["f"] != "fact_sewing_production" ||
		plan.NameMap["r"] != "ref_buyers" ||
		plan.NameMap["d"] != "fact_units" {
		t.Fatalf("NameMap = %v", plan.NameMap)
	}
}

// TestBuildPlan_AddColumnByClientID verifies a forward reference to a
// just-planned table lands on the suffixed name it actually received.
func TestBuildPlan_AddColumnByClientID(t *testing.T) {
	t.Parallel()

	existing := map[string]map[string]bool{"dim_buyer": {"id": true}}
	plan, err := BuildPlan(snap(existing), []Proposal{
		{ID: "t1", Action: ActionCreateTable, Table: "dim_buyer"},
		{ID: "c1", Action: ActionAddColumn, TableClientID: "t1", Column: "country", Type: "TEXT"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.NameMap["t1"] != "dim_buyer_2" {
		t.Fatalf("NameMap = %v", plan.NameMap)
	}
	want := `ALTER TABLE "public"."dim_buyer_2" ADD COLUMN "country" TEXT`
	if plan.Statements[1] != want {
		t.Fatalf("got %q\nwant %q", plan.Statements[1], want)
	}

	if _, err := BuildPlan(snap(existing), []Proposal{
		{Action: ActionAddColumn, TableClientID: "ghost", Column: "x", Type: "TEXT"},
	}); err == nil {
		t.Fatalf("unknown client id should error")
	}
}

// TestBuildPlan_CreateTableCollision verifies an existing table name gets
// the _2 suffix, and two identical proposals in one plan get _2 and _3.
func TestBuildPlan_CreateTableCollision(t *testing.T) {
	t.Parallel()

	existing := map[string]map[string]bool{"dim_buyer": {"id": true}}
	plan, err := BuildPlan(snap(existing), []Proposal{
		{ID: "a", Action: ActionCreateTable, Table: "dim_buyer"},
		{ID: "b", Action: ActionCreateTable, Table: "dim_buyer"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.NameMap["a"] != "dim_buyer_2" || plan.NameMap["b"] != "dim_buyer_3" {
		t.Fatalf("NameMap = %v", plan.NameMap)
	}
}

// TestBuildPlan_AddColumn covers the happy path, the unknown-table error
// and the existing-column suffix warning.
func TestBuildPlan_AddColumn(t *testing.T) {
	t.Parallel()

	existing := map[string]map[string]bool{"fact_production": {"id": true, "qty": true}}

	plan, err := BuildPlan(snap(existing), []Proposal{{
		Action: ActionAddColumn, Table: "fact_production", Column: "newcol: Batch No", Type: "integer",
	}})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	want := `ALTER TABLE "public"."fact_production" ADD COLUMN "batch_no" INTEGER`
	if plan.Statements[0] != want {
		t.Fatalf("got %q\nwant %q", plan.Statements[0], want)
	}

	if _, err := BuildPlan(snap(existing), []Proposal{{
		Action: ActionAddColumn, Table: "nope", Column: "x", Type: "TEXT",
	}}); err == nil {
		t.Fatalf("unknown table should error")
	}

	plan, err = BuildPlan(snap(existing), []Proposal{{
		Action: ActionAddColumn, Table: "fact_production", Column: "qty", Type: "TEXT",
	}})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !strings.Contains(plan.Statements[0], `"qty_2"`) || len(plan.Warnings) != 1 {
		t.Fatalf("collision handling: %v / %v", plan.Statements, plan.Warnings)
	}
}

// TestBuildPlan_AlterAndNotNull covers alter_column_type with and without
// USING, and set_not_null.
func TestBuildPlan_AlterAndNotNull(t *testing.T) {
	t.Parallel()

	existing := map[string]map[string]bool{"t": {"c": true}}
	plan, err := BuildPlan(snap(existing), []Proposal{
		{Action: ActionAlterColumnType, Table: "t", Column: "c", Type: "BIGINT", Using: "c::bigint"},
		{Action: ActionSetNotNull, Table: "t", Column: "c"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if got := plan.Statements[0]; got != `ALTER TABLE "public"."t" ALTER COLUMN "c" TYPE BIGINT USING c::bigint` {
		t.Fatalf("alter = %q", got)
	}
	if got := plan.Statements[1]; got != `ALTER TABLE "public"."t" ALTER COLUMN "c" SET NOT NULL` {
		t.Fatalf("not null = %q", got)
	}
}

// TestBuildPlan_PrimaryKey covers replace-existing-key ordering, the
// constraint-name fallback and drop_primary_key.
func TestBuildPlan_PrimaryKey(t *testing.T) {
	t.Parallel()

	s := snap(map[string]map[string]bool{"t": {"a": true, "b": true}})
	s.PKConstraint["t"] = "t_pk_custom"

	plan, err := BuildPlan(s, []Proposal{
		{Action: ActionSetPrimaryKey, Table: "t", Keys: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Statements) != 2 ||
		!strings.Contains(plan.Statements[0], `DROP CONSTRAINT IF EXISTS "t_pk_custom"`) ||
		!strings.Contains(plan.Statements[1], `ADD PRIMARY KEY ("a", "b")`) {
		t.Fatalf("statements = %v", plan.Statements)
	}

	// No snapshotted constraint: fall back to <table>_pkey.
	plan, err = BuildPlan(snap(map[string]map[string]bool{"t": {"a": true}}), []Proposal{
		{Action: ActionDropPrimaryKey, Table: "t"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !strings.Contains(plan.Statements[0], `"t_pkey"`) {
		t.Fatalf("fallback = %v", plan.Statements)
	}

	if _, err := BuildPlan(s, []Proposal{{Action: ActionSetPrimaryKey, Table: "t"}}); err == nil {
		t.Fatalf("set_primary_key without keys should error")
	}
}

// TestBuildPlan_SetAutoIncrement verifies the sequence create/default/sync
// triple.
func TestBuildPlan_SetAutoIncrement(t *testing.T) {
	t.Parallel()

	plan, err := BuildPlan(snap(map[string]map[string]bool{"t": {"id": true}}), []Proposal{
		{Action: ActionSetAutoIncrement, Table: "t", Column: "id"},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Statements) != 3 {
		t.Fatalf("statements = %v", plan.Statements)
	}
	if !strings.Contains(plan.Statements[0], `CREATE SEQUENCE IF NOT EXISTS "public"."t_id_seq" OWNED BY "public"."t"."id"`) {
		t.Fatalf("create = %q", plan.Statements[0])
	}
	if !strings.Contains(plan.Statements[1], `SET DEFAULT nextval('t_id_seq')`) {
		t.Fatalf("default = %q", plan.Statements[1])
	}
	if !strings.Contains(plan.Statements[2], `COALESCE((SELECT MAX("id") FROM "public"."t"), 0) + 1`) {
		t.Fatalf("sync = %q", plan.Statements[2])
	}
}

// TestBuildPlan_UnknownAction rejects anything outside the vocabulary.
func TestBuildPlan_UnknownAction(t *testing.T) {
	t.Parallel()

	if _, err := BuildPlan(snap(nil), []Proposal{{Action: "rename_table", Table: "t"}}); err == nil {
		t.Fatalf("unknown action should error")
	}
	if _, err := BuildPlan(snap(nil), []Proposal{{Action: ActionCreateTable, Table: "  "}}); err == nil {
		t.Fatalf("empty table should error")
	}
}
