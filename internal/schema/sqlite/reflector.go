// Package sqlite implements schema reflection against SQLite. Useful for
// local destinations and as the test backend, since it needs no server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"ingest/internal/schema"
)

func init() {
	schema.Register("sqlite", func(ctx context.Context, cfg schema.OpenConfig) (schema.Reflector, error) {
		return New(ctx, cfg.DSN)
	})
}

// Reflector reflects tables from a SQLite database file.
type Reflector struct {
	db *sql.DB
}

func New(ctx context.Context, dsn string) (*Reflector, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return &Reflector{db: db}, nil
}

// DB exposes the handle for co-located writes in one logical operation.
func (r *Reflector) DB() *sql.DB { return r.db }

func (r *Reflector) Close() { r.db.Close() }

func (r *Reflector) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Reflect ignores any schema qualifier; SQLite has a single namespace per
// attached database.
func (r *Reflector) Reflect(ctx context.Context, ref string) (*schema.TableDefinition, error) {
	_, table := schema.SplitQualified(ref)

	def := &schema.TableDefinition{
		Name:    table,
		Columns: map[string]schema.Column{},
	}

	rows, err := r.db.QueryContext(ctx, `SELECT name, type, "notnull", COALESCE(dflt_value, ''), pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("reflect %s: %w", table, err)
	}
	defer rows.Close()

	type pkCol struct {
		name string
		ord  int
	}
	var pks []pkCol
	for rows.Next() {
		var (
			name, dbType, dflt string
			notNull, pk        int
		)
		if err := rows.Scan(&name, &dbType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		def.Columns[name] = schema.Column{
			Name:         name,
			SemanticType: schema.SemanticType(dbType),
			DBType:       dbType,
			Nullable:     notNull == 0,
			Default:      dflt,
			IsPrimaryKey: pk > 0,
		}
		def.ColumnOrder = append(def.ColumnOrder, name)
		if pk > 0 {
			pks = append(pks, pkCol{name: name, ord: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(def.ColumnOrder) == 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrTableNotFound, ref)
	}

	// pragma_table_info reports pk ordinals starting at 1.
	for ord := 1; ord <= len(pks); ord++ {
		for _, p := range pks {
			if p.ord == ord {
				def.PrimaryKey = append(def.PrimaryKey, p.name)
			}
		}
	}

	if err := r.loadUnique(ctx, def); err != nil {
		return nil, fmt.Errorf("reflect unique %s: %w", table, err)
	}
	if err := r.loadForeignKeys(ctx, def); err != nil {
		return nil, fmt.Errorf("reflect fks %s: %w", table, err)
	}
	return def, nil
}

func (r *Reflector) loadUnique(ctx context.Context, def *schema.TableDefinition) error {
	idxRows, err := r.db.QueryContext(ctx, `SELECT name FROM pragma_index_list(?) WHERE "unique" = 1 AND origin != 'pk'`, def.Name)
	if err != nil {
		return err
	}
	var names []string
	for idxRows.Next() {
		var name string
		if err := idxRows.Scan(&name); err != nil {
			idxRows.Close()
			return err
		}
		names = append(names, name)
	}
	idxRows.Close()
	if err := idxRows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		colRows, err := r.db.QueryContext(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, name)
		if err != nil {
			return err
		}
		uc := schema.UniqueConstraint{Name: name}
		for colRows.Next() {
			var col string
			if err := colRows.Scan(&col); err != nil {
				colRows.Close()
				return err
			}
			uc.Columns = append(uc.Columns, col)
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return err
		}
		def.Unique = append(def.Unique, uc)
	}
	return nil
}

func (r *Reflector) loadForeignKeys(ctx context.Context, def *schema.TableDefinition) error {
	rows, err := r.db.QueryContext(ctx, `SELECT "table", "from", "to" FROM pragma_foreign_key_list(?)`, def.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.RefTable, &fk.Column, &fk.RefColumn); err != nil {
			return err
		}
		def.ForeignKeys = append(def.ForeignKeys, fk)
		if c, ok := def.Columns[fk.Column]; ok {
			ref := fk
			c.References = &ref
			def.Columns[fk.Column] = c
		}
	}
	return rows.Err()
}
