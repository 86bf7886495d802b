package importer

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"ingest/internal/schema"
)

// Identifier length limits. Postgres truncates at 63 bytes; staying under
// leaves room for the suffixes the destination may add.
const (
	maxIndexNameLen      = 60
	maxConstraintNameLen = 62
)

func quoteIdent(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func qualifiedName(schemaName, table string) string {
	if schemaName == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schemaName, table)
}

// insertSQL builds a multi-row INSERT returning the key columns of every
// inserted row. rows is the number of value tuples; placeholders are
// $1..$N in row-major order.
func insertSQL(schemaName, table string, columns []string, rows int, returning []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ",
		qualifiedName(schemaName, table), strings.Join(quoted, ", "))

	p := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}

	if len(returning) > 0 {
		ret := make([]string, len(returning))
		for i, c := range returning {
			ret[i] = quoteIdent(c)
		}
		fmt.Fprintf(&b, " RETURNING %s", strings.Join(ret, ", "))
	}
	return b.String()
}

// upsertSQL builds the ON CONFLICT DO UPDATE form over the key columns.
// Every non-key column updates from EXCLUDED; a key-only row degrades to
// DO NOTHING.
func upsertSQL(schemaName, table string, columns, keyCols []string, rows int, returning []string) string {
	base := insertSQL(schemaName, table, columns, rows, nil)

	isKey := map[string]bool{}
	for _, k := range keyCols {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c)))
	}

	quotedKeys := make([]string, len(keyCols))
	for i, k := range keyCols {
		quotedKeys[i] = quoteIdent(k)
	}

	var b strings.Builder
	b.WriteString(base)
	if len(sets) == 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(quotedKeys, ", "))
	} else {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(quotedKeys, ", "), strings.Join(sets, ", "))
	}
	if len(returning) > 0 {
		ret := make([]string, len(returning))
		for i, c := range returning {
			ret[i] = quoteIdent(c)
		}
		fmt.Fprintf(&b, " RETURNING %s", strings.Join(ret, ", "))
	}
	return b.String()
}

// deleteAllSQL empties the table for the replace strategy. One statement,
// inside the same transaction as the inserts that follow.
func deleteAllSQL(schemaName, table string) string {
	return "DELETE FROM " + qualifiedName(schemaName, table)
}

// existingKeysSQL selects the key tuples already present, for append-mode
// skip filtering and duplicate classification.
func existingKeysSQL(schemaName, table string, keyCols, otherCols []string, limit int) string {
	cols := make([]string, 0, len(keyCols)+len(otherCols))
	for _, c := range keyCols {
		cols = append(cols, quoteIdent(c))
	}
	for _, c := range otherCols {
		cols = append(cols, quoteIdent(c))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), qualifiedName(schemaName, table))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

// createTableSQL builds an auto-created destination table: a BIGSERIAL id
// plus one column per mapped field with its inferred type.
func createTableSQL(schemaName, table string, columns []string, types map[string]string) string {
	var defs []string
	defs = append(defs, "id BIGSERIAL PRIMARY KEY")
	for _, c := range columns {
		t := types[c]
		if t == "" {
			t = "TEXT"
		}
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c), t))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		qualifiedName(schemaName, table), strings.Join(defs, ",\n\t"))
}

func addColumnSQL(schemaName, table, column, sqlType string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		qualifiedName(schemaName, table), quoteIdent(column), sqlType)
}

func renameColumnSQL(schemaName, table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		qualifiedName(schemaName, table), quoteIdent(from), quoteIdent(to))
}

// indexName builds idx_<table>_<col>, truncated to the index name limit.
func indexName(table, column string) string {
	n := "idx_" + table + "_" + column
	if len(n) > maxIndexNameLen {
		n = n[:maxIndexNameLen]
	}
	return n
}

// fkName builds fk_<table>_<col>, truncated to the constraint name limit.
func fkName(table, column string) string {
	n := "fk_" + table + "_" + column
	if len(n) > maxConstraintNameLen {
		n = n[:maxConstraintNameLen]
	}
	return n
}

func createIndexSQL(schemaName, table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(indexName(table, column)), qualifiedName(schemaName, table), quoteIdent(column))
}

func addForeignKeySQL(schemaName, table, column, refTable, refColumn string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		qualifiedName(schemaName, table), quoteIdent(fkName(table, column)),
		quoteIdent(column), qualifiedName(schemaName, refTable), quoteIdent(refColumn))
}

// maxKeySQL reads the current maximum of a numeric key, for the
// max_plus_one id mode and the upsert downgrade path.
func maxKeySQL(schemaName, table, column string) string {
	return fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s",
		quoteIdent(column), qualifiedName(schemaName, table))
}

// syncSequenceSQL realigns a serial sequence after explicit id inserts.
// Uses pg_get_serial_sequence so renamed sequences still resolve.
func syncSequenceSQL(schemaName, table, column string) string {
	qualified := table
	if schemaName != "" {
		qualified = schemaName + "." + table
	}
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', '%s'), COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)",
		qualified, column, quoteIdent(column), qualifiedName(schemaName, table))
}

// restartSequenceSQL is the fallback when pg_get_serial_sequence finds no
// sequence (default attached without ownership): restart the conventionally
// named sequence directly.
func restartSequenceSQL(schemaName, table, column string, next int64) string {
	return fmt.Sprintf("ALTER SEQUENCE %s RESTART WITH %d",
		qualifiedName(schemaName, table+"_"+column+"_seq"), next)
}

// rollbackDeleteSQL removes previously inserted rows by key.
func rollbackDeleteSQL(schemaName, table, keyCol string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s::text = ANY($1)",
		qualifiedName(schemaName, table), quoteIdent(keyCol))
}

// rollbackDeleteTupleSQL removes rows by composite key tuple. Arguments are
// the tuple values flattened row-major, matched as text the same way the
// record ids were written.
func rollbackDeleteTupleSQL(schemaName, table string, keyCols []string, tuples int) string {
	quoted := make([]string, len(keyCols))
	for i, k := range keyCols {
		quoted[i] = quoteIdent(k) + "::text"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s WHERE (%s) IN (",
		qualifiedName(schemaName, table), strings.Join(quoted, ", "))
	p := 1
	for t := 0; t < tuples; t++ {
		if t > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range keyCols {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// dedupColumns picks the columns keyless de-duplication compares: the first
// unique constraint fully covered by the written columns, else every
// written column (a full-row hash).
func dedupColumns(def *schema.TableDefinition, columns []string) []string {
	avail := map[string]bool{}
	for _, c := range columns {
		avail[c] = true
	}
	if def != nil {
		for _, u := range def.Unique {
			covered := len(u.Columns) > 0
			for _, c := range u.Columns {
				if !avail[c] {
					covered = false
					break
				}
			}
			if covered {
				return append([]string(nil), u.Columns...)
			}
		}
	}
	return append([]string(nil), columns...)
}

// keyColumns picks the write key: the table's primary key when present,
// else a lone "id" column, else nothing.
func keyColumns(def *schema.TableDefinition) []string {
	if def == nil {
		return nil
	}
	if len(def.PrimaryKey) > 0 {
		return def.PrimaryKey
	}
	if def.HasColumn("id") {
		return []string{"id"}
	}
	return nil
}

// isAutoIDKey reports whether the key is the single serial "id" column,
// which cannot anchor ON CONFLICT because generated keys never collide.
func isAutoIDKey(def *schema.TableDefinition, keyCols []string) bool {
	if def == nil || len(keyCols) != 1 || keyCols[0] != "id" {
		return false
	}
	col, ok := def.Columns["id"]
	return ok && strings.Contains(col.Default, "nextval")
}
