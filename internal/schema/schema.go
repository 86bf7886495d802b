// Package schema describes destination tables and reflects them from a live
// connection.
//
// The structural types here are shared by the analyzer, validator and
// importer; keeping them in one leaf package avoids import cycles between
// those components.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Semantic type vocabulary. Native database types are folded into this small
// set so the rest of the pipeline never has to reason about driver-specific
// type names.
const (
	TypeInteger  = "INTEGER"
	TypeDecimal  = "DECIMAL"
	TypeDate     = "DATE"
	TypeDatetime = "DATETIME"
	TypeBoolean  = "BOOLEAN"
	TypeJSON     = "JSON"
	TypeText     = "TEXT"
)

// ErrTableNotFound is returned by Reflect when the table does not exist in
// any candidate schema.
var ErrTableNotFound = errors.New("schema: table not found")

// ForeignKey describes a single-column foreign key.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// UniqueConstraint is a named unique constraint over one or more columns.
type UniqueConstraint struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Column is one destination column.
type Column struct {
	Name         string      `json:"name"`
	SemanticType string      `json:"semantic_type"`
	DBType       string      `json:"db_type"`
	Nullable     bool        `json:"nullable"`
	Default      string      `json:"default,omitempty"`
	IsPrimaryKey bool        `json:"is_primary_key"`
	References   *ForeignKey `json:"references,omitempty"`
}

// TableDefinition is the reflected structure of one destination table.
type TableDefinition struct {
	Schema      string             `json:"schema,omitempty"`
	Name        string             `json:"name"`
	Columns     map[string]Column  `json:"columns"`
	ColumnOrder []string           `json:"column_order"`
	PrimaryKey  []string           `json:"primary_key"`
	ForeignKeys []ForeignKey       `json:"foreign_keys,omitempty"`
	Unique      []UniqueConstraint `json:"unique,omitempty"`
}

// QualifiedName returns schema.name, or just name when no schema applies.
func (t *TableDefinition) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// HasColumn reports whether the definition knows col. A nil or empty
// definition (the degraded "could not reflect" case) reports false.
func (t *TableDefinition) HasColumn(col string) bool {
	if t == nil {
		return false
	}
	_, ok := t.Columns[col]
	return ok
}

// SemanticType folds a native database type name into the semantic
// vocabulary by substring matching, e.g. "character varying" -> TEXT,
// "int8" -> INTEGER, "timestamp with time zone" -> DATETIME.
func SemanticType(dbType string) string {
	t := strings.ToLower(dbType)
	switch {
	case strings.Contains(t, "int"):
		return TypeInteger
	case strings.Contains(t, "decimal"),
		strings.Contains(t, "numeric"),
		strings.Contains(t, "number"),
		strings.Contains(t, "float"),
		strings.Contains(t, "double"):
		return TypeDecimal
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"):
		return TypeDatetime
	case strings.Contains(t, "date"):
		return TypeDate
	case strings.Contains(t, "bool"):
		return TypeBoolean
	case strings.Contains(t, "json"):
		return TypeJSON
	default:
		return TypeText
	}
}

// SplitQualified splits "schema.table" into its parts. A bare name returns
// ("", name). Only the first dot splits; quoted identifiers are not handled
// here (reflection works with catalog names, which arrive unquoted).
func SplitQualified(ref string) (schemaName, table string) {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

// CandidateSchemas is the lookup order for an unqualified table reference:
// the configured default schema, then no schema at all, then "public".
// Duplicates are removed, order preserved.
func CandidateSchemas(given, defaultSchema string) []string {
	out := make([]string, 0, 3)
	seen := map[string]bool{}
	for _, s := range []string{given, defaultSchema, "", "public"} {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Reflector introspects a destination connection.
type Reflector interface {
	// Tables lists table names visible in the default schema.
	Tables(ctx context.Context) ([]string, error)

	// Reflect resolves ref (bare or schema-qualified) into a definition.
	// Returns ErrTableNotFound (wrapped) when no candidate schema has it.
	Reflect(ctx context.Context, ref string) (*TableDefinition, error)

	// Close releases the underlying connection. Call once.
	Close()
}

// ---- reflector factories ----

// OpenConfig selects and parameterizes a reflector backend.
type OpenConfig struct {
	Driver        string
	DSN           string
	DefaultSchema string
}

type factory func(ctx context.Context, cfg OpenConfig) (Reflector, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a reflector backend under a driver name. Backend
// packages call this from init(). Registering the same driver twice panics
// to fail fast on ambiguous wiring.
func Register(driver string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if driver == "" {
		panic("schema: Register called with empty driver")
	}
	if f == nil {
		panic("schema: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("schema: factory already registered for driver=%q", driver))
	}
	factories[driver] = f
}

// Open constructs a Reflector for the configured driver.
func Open(ctx context.Context, cfg OpenConfig) (Reflector, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("schema: missing driver")
	}

	factoryMu.RLock()
	f := factories[cfg.Driver]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported schema driver=%s", cfg.Driver)
	}
	return f(ctx, cfg)
}
