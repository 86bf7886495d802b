// Package importer writes validated rows into the destination: table
// auto-creation, multi-table routing, relationship id handling, chunked
// transactional inserts and lineage capture for rollback.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ingest/internal/coerce"
	"ingest/internal/naming"
	"ingest/internal/schema"
	"ingest/internal/session"
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// DB is the slice of pgxpool.Pool the executor uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Relationship links a parent table written in this import to a child
// column: the child's FKColumn receives the parent id whose LookupColumn
// equals the child row's SourceColumn value.
type Relationship struct {
	ParentTable  string `json:"parent_table"`
	LookupColumn string `json:"lookup_column"`
	FKColumn     string `json:"fk_column"`
	SourceColumn string `json:"source_column"`
}

// Duplicate decisions carried in Request.Decisions.
const (
	DecisionImport = "import"
	DecisionSkip   = "skip"
)

// Request is one import run over validated rows.
type Request struct {
	SessionID string

	// Table is the default destination; ColumnTables reroutes individual
	// columns to other tables for multi-table fan-out.
	Table        string
	Columns      []string
	ColumnTables map[string]string
	Rows         []map[string]any

	// Originals are the rows as read from the file, aligned with Rows.
	// Lineage stores both forms so rollback and audits can see what came
	// in versus what was written.
	Originals []map[string]string

	// Strategy per table; empty means auto-select.
	Strategy map[string]string

	// Decisions overrides duplicate handling per 1-based source row.
	Decisions map[int]string
	// DuplicateRows are the rows validation flagged as destination
	// duplicates; they are skipped unless the decision says import.
	DuplicateRows []int

	// IDMode/IDPattern apply to tables created by this run.
	IDMode    string
	IDPattern string

	Relationships []Relationship
}

// Outcome is one best-effort enhancement step (index, FK constraint,
// sequence sync). Failures are recorded, never fatal.
type Outcome struct {
	Step   string `json:"step"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Result is what one Run did.
type Result struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`

	Tables     []string             `json:"tables"`
	Strategies map[string]string    `json:"strategies"`
	Lineage    []session.LineageRow `json:"-"`
	Outcomes   []Outcome            `json:"outcomes,omitempty"`
}

// Executor writes one request in a single destination transaction.
type Executor struct {
	DB        DB
	Reflector schema.Reflector
	Schema    string
	Log       Logger

	ChunkSize    int
	DupThreshold float64
	SizeRatio    float64
	ProbeLimit   int

	// Progress receives 0..99 during the run; the caller reports 100 after
	// it has committed session state.
	Progress func(pct int)

	// OnChunk fires after each flushed batch write, for instrumentation.
	OnChunk func()
}

func (e *Executor) logger() Logger {
	if e.Log != nil {
		return e.Log
	}
	return nopLogger{}
}

func (e *Executor) chunkSize() int {
	if e.ChunkSize > 0 {
		return e.ChunkSize
	}
	return 1000
}

func (e *Executor) probeLimit() int {
	if e.ProbeLimit > 0 {
		return e.ProbeLimit
	}
	return 200
}

func (e *Executor) progress(pct int) {
	if e.Progress == nil {
		return
	}
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	e.Progress(pct)
}

// tablePlan is the per-table slice of the request.
type tablePlan struct {
	table    string
	columns  []string
	def      *schema.TableDefinition
	created  bool
	strategy string
	keyCols  []string
	idGen    *IDGenerator
}

// Run executes the import. All writes happen in one transaction; the
// enhancement steps (indexes, FK constraints, sequence sync) run after
// commit and report as Outcomes.
func (e *Executor) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.Table == "" {
		return nil, fmt.Errorf("importer: no target table")
	}
	if len(req.Columns) == 0 {
		return nil, fmt.Errorf("importer: no mapped columns")
	}

	res := &Result{Strategies: map[string]string{}}

	plans, err := e.buildPlans(ctx, req)
	if err != nil {
		return nil, err
	}

	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("importer: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// DDL first: auto-created tables and added columns share the data
	// transaction so a failed import leaves no half-built table behind.
	for _, p := range plans {
		if err := e.ensureTableReady(ctx, tx, p, req); err != nil {
			return nil, err
		}
	}

	st := e.newRunState(req, len(plans))

	for _, p := range plans {
		res.Tables = append(res.Tables, p.table)
		res.Strategies[p.table] = p.strategy

		if p.strategy == StrategyReplace {
			if _, err := tx.Exec(ctx, deleteAllSQL(e.Schema, p.table)); err != nil {
				return nil, integrityErr("clear table "+p.table, err)
			}
		}

		if err := e.writeTable(ctx, tx, p, req, st, res); err != nil {
			return nil, err
		}

		// Parent written: resolve its ids into dependent columns before
		// their tables are written.
		if err := e.resolveRelationships(ctx, tx, p.table, req); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("importer: commit: %w", err)
	}

	e.enhance(ctx, plans, req, res)
	return res, nil
}

// buildPlans splits the request per destination table, reflects each and
// settles key columns and strategy. The default table is written last so
// parent lookups resolve first.
func (e *Executor) buildPlans(ctx context.Context, req *Request) ([]*tablePlan, error) {
	byTable := map[string][]string{}
	var order []string
	add := func(table, col string) {
		if _, ok := byTable[table]; !ok {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], col)
	}
	for _, c := range req.Columns {
		t := req.Table
		if rt := req.ColumnTables[c]; rt != "" {
			t = rt
		}
		add(t, c)
	}
	// Default table last.
	sort.SliceStable(order, func(i, j int) bool {
		return order[i] != req.Table && order[j] == req.Table
	})

	var plans []*tablePlan
	for _, t := range order {
		p := &tablePlan{table: t, columns: byTable[t]}

		def, err := e.Reflector.Reflect(ctx, t)
		switch {
		case errors.Is(err, schema.ErrTableNotFound):
			p.created = true
			p.def = e.plannedDefinition(t, p.columns, req.Rows)
		case err != nil:
			return nil, fmt.Errorf("importer: reflect %s: %w", t, err)
		default:
			p.def = def
		}

		p.keyCols = keyColumns(p.def)
		if err := e.settleStrategy(ctx, p, req); err != nil {
			return nil, err
		}

		if p.created || requiresExplicitIDs(p, req) {
			gen, err := e.newIDGen(ctx, p, req)
			if err != nil {
				return nil, err
			}
			p.idGen = gen
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// plannedDefinition synthesizes the definition an auto-created table will
// have, inferring column types from the rows about to be written.
func (e *Executor) plannedDefinition(table string, columns []string, rows []map[string]any) *schema.TableDefinition {
	def := &schema.TableDefinition{
		Schema:      e.Schema,
		Name:        table,
		Columns:     map[string]schema.Column{},
		ColumnOrder: []string{"id"},
		PrimaryKey:  []string{"id"},
	}
	def.Columns["id"] = schema.Column{
		Name: "id", SemanticType: schema.TypeInteger, DBType: "bigint",
		IsPrimaryKey: true, Default: "nextval(auto)",
	}
	for _, c := range columns {
		samples := make([]string, 0, len(rows))
		for _, r := range rows {
			samples = append(samples, coerce.Canonical(r[c]))
		}
		dbType := InferSQLType(samples)
		def.Columns[c] = schema.Column{
			Name: c, SemanticType: schema.SemanticType(dbType), DBType: dbType, Nullable: true,
		}
		def.ColumnOrder = append(def.ColumnOrder, c)
	}
	return def
}

// settleStrategy honors an explicit choice and otherwise picks one from
// the destination's current contents.
func (e *Executor) settleStrategy(ctx context.Context, p *tablePlan, req *Request) error {
	if s := req.Strategy[p.table]; s != "" {
		switch s {
		case StrategyAppend, StrategyUpsert, StrategyReplace:
			p.strategy = s
			return nil
		default:
			return fmt.Errorf("importer: unknown strategy %q for %s", s, p.table)
		}
	}
	if p.created {
		p.strategy = StrategyAppend
		return nil
	}

	var existing int
	if err := e.DB.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifiedName(e.Schema, p.table)),
	).Scan(&existing); err != nil {
		return fmt.Errorf("importer: count %s: %w", p.table, err)
	}

	dupRatio, err := e.probeDupRatio(ctx, p, req)
	if err != nil {
		return err
	}

	usableKey := len(p.keyCols) > 0 && !isAutoIDKey(p.def, p.keyCols)
	p.strategy = SelectStrategy(dupRatio, len(req.Rows), existing, usableKey,
		e.dupThreshold(), e.sizeRatio())
	e.logger().Printf("importer: %s auto strategy=%s (dup=%.2f existing=%d incoming=%d)",
		p.table, p.strategy, dupRatio, existing, len(req.Rows))
	return nil
}

func (e *Executor) dupThreshold() float64 {
	if e.DupThreshold > 0 {
		return e.DupThreshold
	}
	return 0.15
}

func (e *Executor) sizeRatio() float64 {
	if e.SizeRatio > 0 {
		return e.SizeRatio
	}
	return 1.0 / 3.0
}

// probeDupRatio samples existing key tuples (bounded) and measures the
// share of incoming rows whose key already exists.
func (e *Executor) probeDupRatio(ctx context.Context, p *tablePlan, req *Request) (float64, error) {
	if len(p.keyCols) == 0 || len(req.Rows) == 0 || isAutoIDKey(p.def, p.keyCols) {
		return 0, nil
	}
	existing, err := e.loadExistingKeys(ctx, p, nil)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, nil
	}
	hits := 0
	for _, row := range req.Rows {
		if _, ok := existing[coerce.KeyOf(p.keyCols, row)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(req.Rows)), nil
}

// loadExistingKeys reads up to probeLimit existing rows keyed by their key
// tuple. extraCols are included for value comparison when present.
func (e *Executor) loadExistingKeys(ctx context.Context, p *tablePlan, extraCols []string) (map[string]map[string]any, error) {
	q := existingKeysSQL(e.Schema, p.table, p.keyCols, extraCols, e.probeLimit())
	rows, err := e.DB.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("importer: probe %s: %w", p.table, err)
	}
	defer rows.Close()

	cols := append(append([]string{}, p.keyCols...), extraCols...)
	out := map[string]map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := map[string]any{}
		for i, c := range cols {
			row[c] = vals[i]
		}
		out[coerce.KeyOf(p.keyCols, row)] = row
	}
	return out, rows.Err()
}

// runState carries the cross-table bookkeeping of one Run: the skip set,
// the serialized row values lineage records, and overall progress.
type runState struct {
	skip  map[int]string
	orig  []string
	trans []string
	done  int
	total int
}

func (e *Executor) newRunState(req *Request, tables int) *runState {
	st := &runState{
		skip:  e.skipSet(req),
		orig:  make([]string, len(req.Rows)),
		trans: make([]string, len(req.Rows)),
		total: len(req.Rows) * tables,
	}
	for i := range req.Rows {
		if i < len(req.Originals) {
			st.orig[i] = marshalRow(req.Originals[i])
		}
		st.trans[i] = marshalRow(req.Rows[i])
	}
	return st
}

func (e *Executor) stepProgress(st *runState) {
	st.done++
	if st.total > 0 {
		e.progress(st.done * 100 / st.total)
	}
}

// marshalRow renders a lineage value document. A row that cannot marshal
// records an empty document instead of failing the import.
func marshalRow(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// skipSet merges validation's duplicate rows with per-row decisions into
// the set of 1-based rows to skip, tagged with a lineage reason.
func (e *Executor) skipSet(req *Request) map[int]string {
	skip := map[int]string{}
	for _, r := range req.DuplicateRows {
		skip[r] = session.SkipDuplicate
	}
	for r, d := range req.Decisions {
		switch d {
		case DecisionImport:
			delete(skip, r)
		case DecisionSkip:
			skip[r] = session.SkipApprovedDuplicate
		}
	}
	return skip
}

// ensureTableReady creates missing tables and adds missing columns inside
// the import transaction.
func (e *Executor) ensureTableReady(ctx context.Context, tx pgx.Tx, p *tablePlan, req *Request) error {
	if p.created {
		types := map[string]string{}
		for _, c := range p.columns {
			types[c] = p.def.Columns[c].DBType
		}
		ddl := createTableSQL(e.Schema, p.table, p.columns, types)
		e.logger().Printf("importer: creating %s", p.table)
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return integrityErr("create table "+p.table, err)
		}
		return nil
	}

	if err := e.renameUIPrefixed(ctx, tx, p); err != nil {
		return err
	}

	for _, c := range p.columns {
		if p.def.HasColumn(c) {
			continue
		}
		samples := make([]string, 0, len(req.Rows))
		for _, r := range req.Rows {
			samples = append(samples, coerce.Canonical(r[c]))
		}
		dbType := InferSQLType(samples)
		e.logger().Printf("importer: adding %s.%s %s", p.table, c, dbType)
		if _, err := tx.Exec(ctx, addColumnSQL(e.Schema, p.table, c, dbType)); err != nil {
			return integrityErr(fmt.Sprintf("add column %s.%s", p.table, c), err)
		}
		p.def.Columns[c] = schema.Column{
			Name: c, SemanticType: schema.SemanticType(dbType), DBType: dbType, Nullable: true,
		}
		p.def.ColumnOrder = append(p.def.ColumnOrder, c)
	}
	return nil
}

// renameUIPrefixed normalizes residual UI-prefixed column names (leftovers
// of earlier interactive mapping runs) before new columns are added, so the
// incoming data lands in the renamed column instead of a duplicate.
func (e *Executor) renameUIPrefixed(ctx context.Context, tx pgx.Tx, p *tablePlan) error {
	for i, col := range p.def.ColumnOrder {
		if !naming.HasUIPrefix(col) {
			continue
		}
		clean := naming.ResolveColumnName(col)
		if clean == "" || p.def.HasColumn(clean) {
			e.logger().Printf("importer: leaving %s.%s as-is, %q already exists", p.table, col, clean)
			continue
		}
		e.logger().Printf("importer: renaming %s.%s to %s", p.table, col, clean)
		if _, err := tx.Exec(ctx, renameColumnSQL(e.Schema, p.table, col, clean)); err != nil {
			return integrityErr(fmt.Sprintf("rename column %s.%s", p.table, col), err)
		}
		def := p.def.Columns[col]
		def.Name = clean
		delete(p.def.Columns, col)
		p.def.Columns[clean] = def
		p.def.ColumnOrder[i] = clean
	}
	return nil
}

func requiresExplicitIDs(p *tablePlan, req *Request) bool {
	mode := req.IDMode
	return mode != "" && mode != IDModeAuto && len(p.keyCols) == 1
}

func (e *Executor) newIDGen(ctx context.Context, p *tablePlan, req *Request) (*IDGenerator, error) {
	mode := req.IDMode
	if mode == "" {
		mode = IDModeAuto
	}
	var currentMax int64
	if (mode == IDModeMaxPlusOne || mode == IDModePattern) && !p.created && len(p.keyCols) == 1 {
		if err := e.DB.QueryRow(ctx, maxKeySQL(e.Schema, p.table, p.keyCols[0])).Scan(&currentMax); err != nil {
			// Non-numeric keys: start the counter at zero.
			e.logger().Printf("importer: max key of %s not numeric, counting from 1: %v", p.table, err)
			currentMax = 0
		}
	}
	return NewIDGenerator(mode, req.IDPattern, currentMax)
}

// writeTable inserts (or upserts) the table's slice of every row, in
// chunks, recording lineage per source row.
func (e *Executor) writeTable(ctx context.Context, tx pgx.Tx, p *tablePlan, req *Request, st *runState, res *Result) error {
	columns := p.columns
	explicitID := p.idGen != nil && p.idGen.Explicit() && len(p.keyCols) == 1 && !contains(columns, p.keyCols[0])
	if explicitID {
		columns = append([]string{p.keyCols[0]}, columns...)
	}

	strategy := p.strategy
	if strategy == StrategyUpsert && isAutoIDKey(p.def, p.keyCols) {
		// Generated keys never collide, so ON CONFLICT would be a no-op;
		// plain appends with fresh keys are the honest behavior.
		e.logger().Printf("importer: %s upsert downgraded to append (serial id key)", p.table)
		strategy = StrategyAppend
		res.Strategies[p.table] = StrategyAppend
	}

	// Append mode skips rows whose key already exists.
	var existing map[string]map[string]any
	if strategy == StrategyAppend && len(p.keyCols) > 0 && !p.created && !isAutoIDKey(p.def, p.keyCols) {
		var err error
		if existing, err = e.loadExistingKeys(ctx, p, nil); err != nil {
			return err
		}
	}

	// No usable key: de-duplicate by value instead, over the first covered
	// unique constraint or a full-row hash, within the batch and against a
	// bounded window of existing rows.
	var dedupSeen map[string]struct{}
	var dedupCols []string
	if len(p.keyCols) == 0 && strategy != StrategyReplace {
		dedupCols = dedupColumns(p.def, p.columns)
		dedupSeen = map[string]struct{}{}
		if !p.created {
			if err := e.loadExistingHashes(ctx, p, dedupCols, dedupSeen); err != nil {
				return err
			}
		}
	}

	returning := p.keyCols
	chunk := e.chunkSize()

	type pending struct {
		sourceRow int
		values    []any
	}
	var batch []pending

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var q string
		if strategy == StrategyUpsert {
			q = upsertSQL(e.Schema, p.table, columns, p.keyCols, len(batch), returning)
		} else {
			q = insertSQL(e.Schema, p.table, columns, len(batch), returning)
		}
		args := make([]any, 0, len(batch)*len(columns))
		for _, b := range batch {
			args = append(args, b.values...)
		}

		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return integrityErr("write "+p.table, err)
		}
		defer rows.Close()

		if len(returning) == 0 {
			// Nothing to scan back; account for the whole batch directly.
			rows.Close()
			if err := rows.Err(); err != nil {
				return integrityErr("write "+p.table, err)
			}
			for _, b := range batch {
				res.Lineage = append(res.Lineage, session.LineageRow{
					SessionID:       req.SessionID,
					SourceRow:       b.sourceRow,
					TargetTable:     p.table,
					Action:          session.ActionInserted,
					OriginalData:    st.orig[b.sourceRow-1],
					TransformedData: st.trans[b.sourceRow-1],
				})
				res.Inserted++
			}
		} else {
			i := 0
			for rows.Next() {
				keys := make([]any, len(returning))
				ptrs := make([]any, len(returning))
				for k := range keys {
					ptrs[k] = &keys[k]
				}
				if err := rows.Scan(ptrs...); err != nil {
					return err
				}
				parts := make([]string, len(keys))
				for k, v := range keys {
					parts[k] = coerce.Canonical(v)
				}
				action := session.ActionInserted
				if strategy == StrategyUpsert {
					action = session.ActionUpdated
				}
				res.Lineage = append(res.Lineage, session.LineageRow{
					SessionID:       req.SessionID,
					SourceRow:       batch[i].sourceRow,
					TargetTable:     p.table,
					TargetRecordID:  session.JoinRecordID(parts),
					Action:          action,
					OriginalData:    st.orig[batch[i].sourceRow-1],
					TransformedData: st.trans[batch[i].sourceRow-1],
				})
				if action == session.ActionUpdated {
					res.Updated++
				} else {
					res.Inserted++
				}
				i++
			}
			if err := rows.Err(); err != nil {
				return integrityErr("write "+p.table, err)
			}
		}
		if e.OnChunk != nil {
			e.OnChunk()
		}
		batch = batch[:0]
		return nil
	}

	skipRow := func(sourceRow int, reason string) {
		res.Skipped++
		res.Lineage = append(res.Lineage, session.LineageRow{
			SessionID:       req.SessionID,
			SourceRow:       sourceRow,
			TargetTable:     p.table,
			Action:          session.ActionSkipped,
			SkipReason:      reason,
			OriginalData:    st.orig[sourceRow-1],
			TransformedData: st.trans[sourceRow-1],
		})
		e.stepProgress(st)
	}

	for i, row := range req.Rows {
		sourceRow := i + 1

		if reason, ok := st.skip[sourceRow]; ok {
			skipRow(sourceRow, reason)
			continue
		}
		if existing != nil {
			if _, dup := existing[coerce.KeyOf(p.keyCols, row)]; dup {
				skipRow(sourceRow, session.SkipDuplicate)
				continue
			}
		}
		if dedupSeen != nil {
			h := coerce.RowHash(dedupCols, row)
			if _, dup := dedupSeen[h]; dup {
				skipRow(sourceRow, session.SkipDuplicate)
				continue
			}
			dedupSeen[h] = struct{}{}
		}

		values := make([]any, 0, len(columns))
		if explicitID {
			values = append(values, p.idGen.Next())
		}
		for _, c := range p.columns {
			values = append(values, row[c])
		}
		batch = append(batch, pending{sourceRow: sourceRow, values: values})

		if len(batch) >= chunk {
			if err := flush(); err != nil {
				return err
			}
		}
		e.stepProgress(st)
	}
	return flush()
}

// loadExistingHashes folds the value hashes of up to probeLimit existing
// rows into seen, for keyless duplicate skipping. Rows beyond the window
// are not checked; incoming rows they would match insert anyway.
func (e *Executor) loadExistingHashes(ctx context.Context, p *tablePlan, cols []string, seen map[string]struct{}) error {
	q := existingKeysSQL(e.Schema, p.table, cols, nil, e.probeLimit())
	rows, err := e.DB.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("importer: probe %s: %w", p.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := map[string]any{}
		for i, c := range cols {
			row[c] = vals[i]
		}
		seen[coerce.RowHash(cols, row)] = struct{}{}
	}
	return rows.Err()
}

// resolveRelationships fills child FK columns from a just-written parent.
func (e *Executor) resolveRelationships(ctx context.Context, tx pgx.Tx, parentTable string, req *Request) error {
	for _, rel := range req.Relationships {
		if rel.ParentTable != parentTable {
			continue
		}
		lookup := map[string]any{}
		q := fmt.Sprintf("SELECT %s, %s FROM %s",
			quoteIdent("id"), quoteIdent(rel.LookupColumn), qualifiedName(e.Schema, parentTable))
		rows, err := tx.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("importer: load parent keys from %s: %w", parentTable, err)
		}
		for rows.Next() {
			var id any
			var key any
			if err := rows.Scan(&id, &key); err != nil {
				rows.Close()
				return err
			}
			lookup[strings.ToLower(coerce.Canonical(key))] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, row := range req.Rows {
			src := coerce.Canonical(row[rel.SourceColumn])
			if src == "" {
				continue
			}
			if id, ok := lookup[strings.ToLower(src)]; ok {
				row[rel.FKColumn] = id
			}
		}
	}
	return nil
}

// enhance runs the post-commit best-effort steps: FK indexes and
// constraints for relationships, and sequence realignment after explicit
// id writes.
func (e *Executor) enhance(ctx context.Context, plans []*tablePlan, req *Request, res *Result) {
	record := func(step string, err error) {
		o := Outcome{Step: step, OK: err == nil}
		if err != nil {
			o.Detail = err.Error()
			e.logger().Printf("importer: %s: %v", step, err)
		}
		res.Outcomes = append(res.Outcomes, o)
	}

	childTable := func(col string) string {
		if t := req.ColumnTables[col]; t != "" {
			return t
		}
		return req.Table
	}

	for _, rel := range req.Relationships {
		child := childTable(rel.FKColumn)
		_, err := e.DB.Exec(ctx, createIndexSQL(e.Schema, child, rel.FKColumn))
		record(fmt.Sprintf("index %s", indexName(child, rel.FKColumn)), err)

		_, err = e.DB.Exec(ctx, addForeignKeySQL(e.Schema, child, rel.FKColumn, rel.ParentTable, "id"))
		record(fmt.Sprintf("constraint %s", fkName(child, rel.FKColumn)), err)
	}

	for _, p := range plans {
		if p.idGen == nil || !p.idGen.Explicit() || len(p.keyCols) != 1 {
			continue
		}
		if p.idGen.Mode == IDModeUUID || p.idGen.Mode == IDModePattern {
			continue // no sequence behind string keys
		}
		key := p.keyCols[0]
		_, err := e.DB.Exec(ctx, syncSequenceSQL(e.Schema, p.table, key))
		if err != nil {
			// No owned sequence resolvable; try the conventional name.
			var max int64
			if qerr := e.DB.QueryRow(ctx, maxKeySQL(e.Schema, p.table, key)).Scan(&max); qerr == nil {
				_, err = e.DB.Exec(ctx, restartSequenceSQL(e.Schema, p.table, key, max+1))
			}
		}
		record(fmt.Sprintf("sequence sync %s.%s", p.table, key), err)
	}
}

// integrityErr surfaces constraint violations with the destination's own
// message instead of a bare SQLSTATE.
func integrityErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		detail := pgErr.Detail
		if detail == "" {
			detail = pgErr.Message
		}
		return fmt.Errorf("importer: %s: constraint %s violated: %s", op, pgErr.ConstraintName, detail)
	}
	return fmt.Errorf("importer: %s: %w", op, err)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
