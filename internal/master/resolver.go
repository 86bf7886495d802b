// Package master resolves human-readable cell values against master-data
// tables (dimensions) and queues unknown values for approval instead of
// inventing rows mid-import.
package master

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"ingest/internal/schema"
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Querier is the slice of pgxpool.Pool the resolver uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CandidateStore records values awaiting human approval. Implemented by the
// session store.
type CandidateStore interface {
	// AddCandidate returns true when the value was newly queued, false when
	// it was already pending for this session and table.
	AddCandidate(ctx context.Context, sessionID, table, value string) (bool, error)
}

// Resolver looks up names in destination master tables.
type Resolver struct {
	DB        Querier
	Reflector schema.Reflector
	Log       Logger
}

func (r *Resolver) logger() Logger {
	if r.Log != nil {
		return r.Log
	}
	return nopLogger{}
}

// ResolveIDs maps names to ids in the given master table, matching the
// lookup field case-insensitively on the exact trimmed value. An unknown
// table resolves nothing: every name comes back not-found and the caller
// decides whether that blocks.
func (r *Resolver) ResolveIDs(ctx context.Context, entity string, names []string, lookupField string) (map[string]int64, map[string]struct{}, error) {
	found := map[string]int64{}
	notFound := map[string]struct{}{}
	for _, n := range names {
		notFound[n] = struct{}{}
	}
	if len(names) == 0 {
		return found, notFound, nil
	}

	if r.Reflector == nil || r.DB == nil {
		return found, notFound, fmt.Errorf("master: no destination configured")
	}

	def, err := r.Reflector.Reflect(ctx, entity)
	if err != nil {
		r.logger().Printf("master: cannot reflect %s: %v", entity, err)
		return found, notFound, nil
	}

	lookup := LookupField(def, lookupField)
	if lookup != lookupField && lookupField != "" {
		r.logger().Printf("master: %s has no column %q, falling back to %q", entity, lookupField, lookup)
	}
	if lookup == "" {
		r.logger().Printf("master: %s has no usable lookup column", entity)
		return found, notFound, nil
	}
	idCol := IDColumn(def)

	lowered := make([]string, len(names))
	byLower := make(map[string]string, len(names))
	for i, n := range names {
		l := strings.ToLower(strings.TrimSpace(n))
		lowered[i] = l
		byLower[l] = n
	}

	q := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE lower(trim(%s::text)) = ANY($1)",
		pgx.Identifier{idCol}.Sanitize(),
		pgx.Identifier{lookup}.Sanitize(),
		qualify(def),
		pgx.Identifier{lookup}.Sanitize(),
	)
	rows, err := r.DB.Query(ctx, q, lowered)
	if err != nil {
		return found, notFound, fmt.Errorf("master: lookup in %s: %w", entity, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return found, notFound, fmt.Errorf("master: scan %s: %w", entity, err)
		}
		if orig, ok := byLower[strings.ToLower(strings.TrimSpace(value))]; ok {
			found[orig] = id
			delete(notFound, orig)
		}
	}
	return found, notFound, rows.Err()
}

// RaiseCandidates queues the unresolved values for approval, one pending
// row per distinct session+table+value. Store failures are logged and
// skipped so a broken queue never blocks validation.
func (r *Resolver) RaiseCandidates(ctx context.Context, store CandidateStore, sessionID, table string, values []string) int {
	if store == nil {
		return 0
	}
	queued := 0
	seen := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		added, err := store.AddCandidate(ctx, sessionID, table, v)
		if err != nil {
			r.logger().Printf("master: queue candidate %q for %s: %v", v, table, err)
			continue
		}
		if added {
			queued++
		}
	}
	return queued
}

// LookupField picks the column to match names against: the requested field
// when the table has it, otherwise "name", otherwise the first non-key text
// column.
func LookupField(def *schema.TableDefinition, requested string) string {
	if requested != "" && def.HasColumn(requested) {
		return requested
	}
	if def.HasColumn("name") {
		return "name"
	}
	for _, c := range def.ColumnOrder {
		col := def.Columns[c]
		if col.IsPrimaryKey {
			continue
		}
		if col.SemanticType == schema.TypeText {
			return c
		}
	}
	return ""
}

// IDColumn picks the id column handed back to the mapping: the single
// primary key when there is one, otherwise "id".
func IDColumn(def *schema.TableDefinition) string {
	if len(def.PrimaryKey) == 1 {
		return def.PrimaryKey[0]
	}
	return "id"
}

func qualify(def *schema.TableDefinition) string {
	if def.Schema != "" {
		return pgx.Identifier{def.Schema, def.Name}.Sanitize()
	}
	return pgx.Identifier{def.Name}.Sanitize()
}
