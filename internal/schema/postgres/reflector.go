// Package postgres implements schema reflection against PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/schema"
)

func init() {
	schema.Register("postgres", func(ctx context.Context, cfg schema.OpenConfig) (schema.Reflector, error) {
		return New(ctx, cfg.DSN, cfg.DefaultSchema)
	})
}

// Reflector reflects tables from a PostgreSQL connection pool.
type Reflector struct {
	pool          *pgxpool.Pool
	defaultSchema string
}

// New connects and verifies the connection with a ping.
func New(ctx context.Context, dsn, defaultSchema string) (*Reflector, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	return &Reflector{pool: pool, defaultSchema: defaultSchema}, nil
}

// Pool exposes the underlying pool so co-located operations (master lookups,
// imports) can share the connection for one logical invocation.
func (r *Reflector) Pool() *pgxpool.Pool { return r.pool }

func (r *Reflector) Close() { r.pool.Close() }

// Tables lists base tables in the default schema.
func (r *Reflector) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, r.defaultSchema)
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

// Reflect resolves ref into a TableDefinition, trying the candidate schema
// chain (given, then unqualified, then "public") in order.
func (r *Reflector) Reflect(ctx context.Context, ref string) (*schema.TableDefinition, error) {
	given, table := schema.SplitQualified(ref)

	resolved, err := r.resolveSchema(ctx, given, table)
	if err != nil {
		return nil, err
	}
	if resolved == "" {
		return nil, fmt.Errorf("%w: %s", schema.ErrTableNotFound, ref)
	}

	def := &schema.TableDefinition{
		Schema:  resolved,
		Name:    table,
		Columns: map[string]schema.Column{},
	}

	if err := r.loadColumns(ctx, def); err != nil {
		return nil, fmt.Errorf("reflect %s.%s: %w", resolved, table, err)
	}
	if err := r.loadKeys(ctx, def); err != nil {
		return nil, fmt.Errorf("reflect keys %s.%s: %w", resolved, table, err)
	}
	return def, nil
}

// resolveSchema finds the first candidate schema that actually contains the
// table. Empty candidates mean "any schema"; the alphabetically first hit
// wins there, which keeps resolution deterministic.
func (r *Reflector) resolveSchema(ctx context.Context, given, table string) (string, error) {
	for _, cand := range schema.CandidateSchemas(given, r.defaultSchema) {
		var (
			found string
			err   error
		)
		if cand == "" {
			err = r.pool.QueryRow(ctx, `
				SELECT table_schema FROM information_schema.tables
				WHERE table_name = $1
				ORDER BY table_schema LIMIT 1`, table).Scan(&found)
		} else {
			err = r.pool.QueryRow(ctx, `
				SELECT table_schema FROM information_schema.tables
				WHERE table_schema = $1 AND table_name = $2
				LIMIT 1`, cand, table).Scan(&found)
		}
		if err == nil && found != "" {
			return found, nil
		}
		// No row is simply "try the next candidate".
	}
	return "", nil
}

func (r *Reflector) loadColumns(ctx context.Context, def *schema.TableDefinition) error {
	rows, err := r.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, def.Schema, def.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, dbType, nullable, dflt string
		if err := rows.Scan(&name, &dbType, &nullable, &dflt); err != nil {
			return err
		}
		def.Columns[name] = schema.Column{
			Name:         name,
			SemanticType: schema.SemanticType(dbType),
			DBType:       dbType,
			Nullable:     nullable == "YES",
			Default:      dflt,
		}
		def.ColumnOrder = append(def.ColumnOrder, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(def.ColumnOrder) == 0 {
		return fmt.Errorf("%w: %s.%s", schema.ErrTableNotFound, def.Schema, def.Name)
	}
	return nil
}

func (r *Reflector) loadKeys(ctx context.Context, def *schema.TableDefinition) error {
	// Primary key and unique constraints in one pass.
	rows, err := r.pool.Query(ctx, `
		SELECT tc.constraint_type, tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
		  AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.constraint_name, kcu.ordinal_position`, def.Schema, def.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	uniques := map[string][]string{}
	var uniqueOrder []string
	for rows.Next() {
		var kind, conName, col string
		if err := rows.Scan(&kind, &conName, &col); err != nil {
			return err
		}
		switch kind {
		case "PRIMARY KEY":
			def.PrimaryKey = append(def.PrimaryKey, col)
			if c, ok := def.Columns[col]; ok {
				c.IsPrimaryKey = true
				def.Columns[col] = c
			}
		case "UNIQUE":
			if _, seen := uniques[conName]; !seen {
				uniqueOrder = append(uniqueOrder, conName)
			}
			uniques[conName] = append(uniques[conName], col)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, name := range uniqueOrder {
		def.Unique = append(def.Unique, schema.UniqueConstraint{Name: name, Columns: uniques[name]})
	}

	// Foreign keys.
	fkRows, err := r.pool.Query(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
		  AND tc.constraint_type = 'FOREIGN KEY'`, def.Schema, def.Name)
	if err != nil {
		return err
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var fk schema.ForeignKey
		if err := fkRows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return err
		}
		def.ForeignKeys = append(def.ForeignKeys, fk)
		if c, ok := def.Columns[fk.Column]; ok {
			ref := fk
			c.References = &ref
			def.Columns[fk.Column] = c
		}
	}
	return fkRows.Err()
}
