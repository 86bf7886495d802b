package schemachange

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// DB is the slice of pgxpool.Pool the executor and snapshot loader use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Executor applies plans to a postgres destination.
type Executor struct {
	DB  DB
	Log Logger
}

func (e *Executor) logger() Logger {
	if e.Log != nil {
		return e.Log
	}
	return nopLogger{}
}

// Apply runs every statement in one transaction. Either the whole plan
// lands or none of it does.
func (e *Executor) Apply(ctx context.Context, plan *Plan) error {
	if plan == nil || len(plan.Statements) == 0 {
		return nil
	}
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schemachange: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range plan.Statements {
		e.logger().Printf("schemachange: [%d/%d] %s", i+1, len(plan.Statements), stmt)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schemachange: statement %d (%s): %w", i+1, stmt, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("schemachange: commit: %w", err)
	}
	return nil
}

// LoadSnapshot reads the table/column/constraint state BuildPlan needs,
// scoped to one schema.
func LoadSnapshot(ctx context.Context, db DB, schemaName string) (*Snapshot, error) {
	if schemaName == "" {
		schemaName = "public"
	}
	snap := &Snapshot{
		Schema:       schemaName,
		Tables:       map[string]map[string]bool{},
		PKConstraint: map[string]string{},
	}

	rows, err := db.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schemachange: snapshot columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, col string
		if err := rows.Scan(&table, &col); err != nil {
			return nil, err
		}
		if snap.Tables[table] == nil {
			snap.Tables[table] = map[string]bool{}
		}
		snap.Tables[table][col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cons, err := db.Query(ctx, `
		SELECT table_name, constraint_name
		FROM information_schema.table_constraints
		WHERE table_schema = $1 AND constraint_type = 'PRIMARY KEY'`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schemachange: snapshot constraints: %w", err)
	}
	defer cons.Close()
	for cons.Next() {
		var table, name string
		if err := cons.Scan(&table, &name); err != nil {
			return nil, err
		}
		snap.PKConstraint[table] = name
	}
	return snap, cons.Err()
}
