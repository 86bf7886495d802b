// Package schemachange turns approved schema-change proposals into an
// ordered DDL plan and applies it atomically. Planning is pure: it works
// against a snapshot of the destination taken up front, so the whole plan
// is inspectable before anything runs.
package schemachange

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"ingest/internal/naming"
)

// Proposal actions.
const (
	ActionCreateTable      = "create_table"
	ActionAddColumn        = "add_column"
	ActionAlterColumnType  = "alter_column_type"
	ActionSetNotNull       = "set_not_null"
	ActionSetPrimaryKey    = "set_primary_key"
	ActionDropPrimaryKey   = "drop_primary_key"
	ActionSetAutoIncrement = "set_auto_increment"
)

// ColumnSpec is one column in a create_table proposal.
type ColumnSpec struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null,omitempty"`
}

// Proposal is one approved schema change. Table and Column may carry
// mapping-UI markers; the planner strips and normalizes them. A proposal
// can address a table created earlier in the same plan through the
// creating proposal's id in TableClientID, so it follows any collision
// suffix that table received.
type Proposal struct {
	ID            string       `json:"id,omitempty"` // client correlation id
	Action        string       `json:"action"`
	Role          string       `json:"role,omitempty"` // create_table: "fact" or "ref"
	Table         string       `json:"table"`
	TableClientID string       `json:"table_client_id,omitempty"`
	Column        string       `json:"column,omitempty"`
	Columns       []ColumnSpec `json:"columns,omitempty"` // create_table
	Type          string       `json:"type,omitempty"`    // add_column, alter_column_type
	Using         string       `json:"using,omitempty"`   // alter_column_type cast expression
	Keys          []string     `json:"keys,omitempty"`    // set_primary_key
}

// Snapshot is the destination state the plan is computed against.
type Snapshot struct {
	Schema string
	// Tables maps table name to its column set.
	Tables map[string]map[string]bool
	// PKConstraint maps table name to its primary-key constraint name,
	// where one exists.
	PKConstraint map[string]string
}

// Plan is the ordered DDL to run in one transaction.
type Plan struct {
	Statements []string `json:"statements"`
	// NameMap records what each proposal's table/column actually got named
	// after normalization and collision suffixing, keyed by proposal id
	// (falling back to the requested name).
	NameMap  map[string]string `json:"name_map"`
	Warnings []string          `json:"warnings,omitempty"`
}

// allowedTypes is the add_column / create_table type allowlist. Anything
// else falls back to TEXT rather than erroring, so a sloppy UI payload
// still produces a usable column.
var allowedTypes = map[string]bool{
	"TEXT": true, "INTEGER": true, "BIGINT": true,
	"DECIMAL": true, "NUMERIC": true,
	"DATE": true, "TIMESTAMP": true, "TIMESTAMPTZ": true,
	"BOOLEAN": true,
}

func safeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	// DECIMAL(10,2) and friends keep their precision suffix.
	base := t
	if i := strings.IndexByte(base, '('); i > 0 {
		base = base[:i]
	}
	if allowedTypes[strings.TrimSpace(base)] {
		return t
	}
	return "TEXT"
}

// BuildPlan validates and orders the proposals into DDL. The snapshot is
// not mutated; collision tracking happens on a copy so repeated planning is
// stable.
func BuildPlan(snap *Snapshot, proposals []Proposal) (*Plan, error) {
	plan := &Plan{NameMap: map[string]string{}}

	takenTables := map[string]struct{}{}
	columns := map[string]map[string]bool{}
	if snap != nil {
		for t, cols := range snap.Tables {
			takenTables[t] = struct{}{}
			cp := make(map[string]bool, len(cols))
			for c := range cols {
				cp[c] = true
			}
			columns[t] = cp
		}
	}

	qualify := func(table string) string {
		if snap != nil && snap.Schema != "" {
			return pgx.Identifier{snap.Schema, table}.Sanitize()
		}
		return pgx.Identifier{table}.Sanitize()
	}

	record := func(p Proposal, finalName string) {
		key := p.ID
		if key == "" {
			key = p.Table
			if p.Column != "" {
				key = p.Table + "." + p.Column
			}
		}
		plan.NameMap[key] = finalName
	}

	for _, p := range proposals {
		var table string
		switch {
		case p.TableClientID != "":
			name, ok := plan.NameMap[p.TableClientID]
			if !ok {
				return nil, fmt.Errorf("schemachange: %s references unknown client id %q", p.Action, p.TableClientID)
			}
			table = name
		case strings.TrimSpace(naming.StripUIPrefix(p.Table)) == "":
			return nil, fmt.Errorf("schemachange: proposal %q has no table", p.Action)
		case p.Action == ActionCreateTable && p.Role != "":
			table = naming.TableName(p.Role, naming.StripUIPrefix(p.Table))
		default:
			table = naming.ResolveTableName(p.Table)
		}

		switch p.Action {
		case ActionCreateTable:
			table = naming.EnsureUnique(takenTables, table, naming.MaxIdentifierLen)
			record(p, table)

			idCol := table + "_id"
			takenCols := map[string]struct{}{idCol: {}, "created_at": {}, "updated_at": {}}
			var defs []string
			defs = append(defs, fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", pgx.Identifier{idCol}.Sanitize()))
			colSet := map[string]bool{idCol: true, "created_at": true, "updated_at": true}
			for _, c := range p.Columns {
				name := naming.EnsureUnique(takenCols, naming.ResolveColumnName(c.Name), naming.MaxIdentifierLen)
				def := fmt.Sprintf("%s %s", pgx.Identifier{name}.Sanitize(), safeType(c.Type))
				if c.NotNull {
					def += " NOT NULL"
				}
				defs = append(defs, def)
				colSet[name] = true
			}
			defs = append(defs,
				"created_at TIMESTAMPTZ NOT NULL DEFAULT now()",
				"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()")

			plan.Statements = append(plan.Statements, fmt.Sprintf(
				"CREATE TABLE %s (\n\t%s\n)", qualify(table), strings.Join(defs, ",\n\t")))
			columns[table] = colSet

		case ActionAddColumn:
			cols := columns[table]
			if cols == nil {
				return nil, fmt.Errorf("schemachange: add_column on unknown table %s", table)
			}
			takenCols := map[string]struct{}{}
			for c := range cols {
				takenCols[c] = struct{}{}
			}
			name := naming.EnsureUnique(takenCols, naming.ResolveColumnName(p.Column), naming.MaxIdentifierLen)
			if name != naming.ResolveColumnName(p.Column) {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf(
					"column %s.%s already exists, adding as %s", table, p.Column, name))
			}
			record(p, name)
			cols[name] = true

			plan.Statements = append(plan.Statements, fmt.Sprintf(
				"ALTER TABLE %s ADD COLUMN %s %s",
				qualify(table), pgx.Identifier{name}.Sanitize(), safeType(p.Type)))

		case ActionAlterColumnType:
			col := naming.ResolveColumnName(p.Column)
			record(p, col)
			stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s",
				qualify(table), pgx.Identifier{col}.Sanitize(), safeType(p.Type))
			if p.Using != "" {
				stmt += " USING " + p.Using
			}
			plan.Statements = append(plan.Statements, stmt)

		case ActionSetNotNull:
			col := naming.ResolveColumnName(p.Column)
			record(p, col)
			plan.Statements = append(plan.Statements, fmt.Sprintf(
				"ALTER TABLE %s ALTER COLUMN %s SET NOT NULL",
				qualify(table), pgx.Identifier{col}.Sanitize()))

		case ActionSetPrimaryKey:
			if len(p.Keys) == 0 {
				return nil, fmt.Errorf("schemachange: set_primary_key on %s needs key columns", table)
			}
			// Replace any existing key first.
			if con := pkConstraint(snap, table); con != "" {
				plan.Statements = append(plan.Statements, fmt.Sprintf(
					"ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s",
					qualify(table), pgx.Identifier{con}.Sanitize()))
			}
			keys := make([]string, len(p.Keys))
			for i, k := range p.Keys {
				keys[i] = pgx.Identifier{naming.ResolveColumnName(k)}.Sanitize()
			}
			record(p, table)
			plan.Statements = append(plan.Statements, fmt.Sprintf(
				"ALTER TABLE %s ADD PRIMARY KEY (%s)", qualify(table), strings.Join(keys, ", ")))

		case ActionDropPrimaryKey:
			con := pkConstraint(snap, table)
			record(p, con)
			plan.Statements = append(plan.Statements, fmt.Sprintf(
				"ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s",
				qualify(table), pgx.Identifier{con}.Sanitize()))

		case ActionSetAutoIncrement:
			col := naming.ResolveColumnName(p.Column)
			record(p, col)
			seq := naming.Normalize(table+"_"+col+"_seq", naming.MaxIdentifierLen)
			qseq := pgx.Identifier{seq}.Sanitize()
			if snap != nil && snap.Schema != "" {
				qseq = pgx.Identifier{snap.Schema, seq}.Sanitize()
			}
			qcol := pgx.Identifier{col}.Sanitize()
			plan.Statements = append(plan.Statements,
				fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s OWNED BY %s.%s", qseq, qualify(table), qcol),
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT nextval('%s')", qualify(table), qcol, seq),
				fmt.Sprintf("SELECT setval('%s', COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)", seq, qcol, qualify(table)),
			)

		default:
			return nil, fmt.Errorf("schemachange: unknown action %q", p.Action)
		}
	}
	return plan, nil
}

// pkConstraint returns the snapshotted constraint name, falling back to the
// conventional <table>_pkey.
func pkConstraint(snap *Snapshot, table string) string {
	if snap != nil {
		if con, ok := snap.PKConstraint[table]; ok && con != "" {
			return con
		}
	}
	return table + "_pkey"
}
