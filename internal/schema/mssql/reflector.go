// Package mssql implements schema reflection against SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"ingest/internal/schema"
)

func init() {
	schema.Register("mssql", func(ctx context.Context, cfg schema.OpenConfig) (schema.Reflector, error) {
		return New(ctx, cfg.DSN, cfg.DefaultSchema)
	})
}

// Reflector reflects tables from a SQL Server connection.
type Reflector struct {
	db            *sql.DB
	defaultSchema string
}

func New(ctx context.Context, dsn, defaultSchema string) (*Reflector, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssql ping: %w", err)
	}
	if defaultSchema == "" {
		defaultSchema = "dbo"
	}
	return &Reflector{db: db, defaultSchema: defaultSchema}, nil
}

func (r *Reflector) Close() { r.db.Close() }

func (r *Reflector) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, r.defaultSchema)
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

func (r *Reflector) resolveSchema(ctx context.Context, given, table string) (string, error) {
	// Same fallback chain as the other backends, with "dbo" standing in for
	// the ubiquitous default.
	candidates := schema.CandidateSchemas(given, r.defaultSchema)
	for i, c := range candidates {
		if c == "public" {
			candidates[i] = "dbo"
		}
	}

	for _, cand := range candidates {
		var found string
		var err error
		if cand == "" {
			err = r.db.QueryRowContext(ctx, `
				SELECT TOP 1 TABLE_SCHEMA FROM INFORMATION_SCHEMA.TABLES
				WHERE TABLE_NAME = @p1
				ORDER BY TABLE_SCHEMA`, table).Scan(&found)
		} else {
			err = r.db.QueryRowContext(ctx, `
				SELECT TOP 1 TABLE_SCHEMA FROM INFORMATION_SCHEMA.TABLES
				WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`, cand, table).Scan(&found)
		}
		if err == nil && found != "" {
			return found, nil
		}
	}
	return "", nil
}

func (r *Reflector) loadColumns(ctx context.Context, def *schema.TableDefinition) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COALESCE(COLUMN_DEFAULT, '')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, def.Schema, def.Name)
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
	rows, err := r.db.QueryContext(ctx, `
		SELECT tc.CONSTRAINT_TYPE, tc.CONSTRAINT_NAME, kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		 AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
		  AND tc.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`, def.Schema, def.Name)
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
	return nil
}
