package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"ingest/internal/schema"
	"ingest/internal/session"
)

// RollbackResult summarizes what a rollback removed.
type RollbackResult struct {
	Deleted map[string]int64 `json:"deleted"` // table -> rows removed
}

// Rollback deletes the rows lineage says this session inserted, child
// tables before parents, all in one transaction. Updated and skipped rows
// are left alone: an update has no pre-image to restore, and lineage says
// so by action.
func (e *Executor) Rollback(ctx context.Context, lineage []session.LineageRow) (*RollbackResult, error) {
	tables, byTable := session.InsertedIDs(lineage)
	res := &RollbackResult{Deleted: map[string]int64{}}
	if len(tables) == 0 {
		return res, nil
	}

	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("importer: rollback begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Reverse write order so FK children go before their parents.
	for i := len(tables) - 1; i >= 0; i-- {
		table := tables[i]
		ids := byTable[table]

		keyCols, err := e.rollbackKeys(ctx, table)
		if err != nil {
			return nil, err
		}

		var tag pgconn.CommandTag
		if len(keyCols) == 1 {
			tag, err = tx.Exec(ctx, rollbackDeleteSQL(e.Schema, table, keyCols[0]), ids)
		} else {
			var args []any
			tuples := 0
			for _, id := range ids {
				parts := session.SplitRecordID(id)
				if len(parts) != len(keyCols) {
					e.logger().Printf("importer: rollback %s: malformed record id %q", table, id)
					continue
				}
				for _, part := range parts {
					args = append(args, part)
				}
				tuples++
			}
			if tuples == 0 {
				res.Deleted[table] = 0
				continue
			}
			tag, err = tx.Exec(ctx, rollbackDeleteTupleSQL(e.Schema, table, keyCols, tuples), args...)
		}
		if err != nil {
			return nil, integrityErr("rollback "+table, err)
		}
		res.Deleted[table] = tag.RowsAffected()
		e.logger().Printf("importer: rollback %s removed %d of %d", table, tag.RowsAffected(), len(ids))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("importer: rollback commit: %w", err)
	}
	return res, nil
}

// rollbackKeys resolves the key columns lineage record ids refer to.
// Composite keys were stored as joined tuples and are split back apart for
// tuple matching; a table without any key cannot be rolled back.
func (e *Executor) rollbackKeys(ctx context.Context, table string) ([]string, error) {
	def, err := e.Reflector.Reflect(ctx, table)
	if errors.Is(err, schema.ErrTableNotFound) {
		return nil, fmt.Errorf("importer: rollback: table %s no longer exists", table)
	}
	if err != nil {
		return nil, fmt.Errorf("importer: rollback reflect %s: %w", table, err)
	}
	keys := keyColumns(def)
	if len(keys) == 0 {
		return nil, fmt.Errorf("importer: rollback: %s has no key columns", table)
	}
	return keys, nil
}
