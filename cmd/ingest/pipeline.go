package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/analyzer"
	"ingest/internal/coerce"
	"ingest/internal/config"
	"ingest/internal/importer"
	"ingest/internal/master"
	"ingest/internal/metrics"
	"ingest/internal/parser"
	"ingest/internal/schema"
	"ingest/internal/schema/postgres"
	"ingest/internal/schemachange"
	"ingest/internal/session"
)

// env is the shared command environment: config plus the metrics sink.
type env struct {
	cfg            config.Config
	metricsBackend metrics.Backend
}

func (e *env) openStore(ctx context.Context) (*session.Store, error) {
	return session.OpenStore(ctx, e.cfg.StatePath)
}

// openPostgres returns the reflector and its pool for the commands that
// write. Only the postgres backend supports imports; the others reflect
// and analyze.
func (e *env) openPostgres(ctx context.Context) (*postgres.Reflector, *pgxpool.Pool, error) {
	if e.cfg.Destination.Driver != "postgres" {
		return nil, nil, fmt.Errorf("destination driver %q supports analysis only; imports need postgres", e.cfg.Destination.Driver)
	}
	r, err := postgres.New(ctx, e.cfg.Destination.DSN, e.cfg.Destination.Schema)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Pool(), nil
}

func (e *env) loadTemplates(ctx context.Context, store *session.Store) []analyzer.Template {
	stored, err := store.Templates(ctx)
	if err != nil {
		log.Printf("templates: %v (continuing without)", err)
		return nil
	}
	out := make([]analyzer.Template, 0, len(stored))
	for _, s := range stored {
		t := analyzer.Template{ID: s.ID, Name: s.Name, TargetTable: s.TargetTable}
		if err := json.Unmarshal([]byte(s.FilenamePatterns), &t.FilenamePatterns); err != nil {
			log.Printf("template %s: bad patterns: %v", s.ID, err)
		}
		if err := json.Unmarshal([]byte(s.Fields), &t.Fields); err != nil {
			log.Printf("template %s: bad fields: %v", s.ID, err)
		}
		if err := json.Unmarshal([]byte(s.Mapping), &t.Mapping); err != nil {
			log.Printf("template %s: bad mapping: %v", s.ID, err)
		}
		out = append(out, t)
	}
	return out
}

// readUpload loads and size-checks the file.
func (e *env) readUpload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if limit := e.cfg.MaxFileSizeMB; limit > 0 && len(data) > limit<<20 {
		return nil, fmt.Errorf("%s is %d bytes, over the %d MB limit", path, len(data), limit)
	}
	return data, nil
}

// sessionMapping decodes the stored mapping document.
func sessionMapping(sess *session.Session) (map[string]coerce.MappingEntry, error) {
	if sess.Mapping == "" {
		return nil, fmt.Errorf("session %s has no mapping yet", sess.ID)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(sess.Mapping), &raw); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	mapping, errs := coerce.NormalizeMapping(raw)
	for _, err := range errs {
		log.Printf("mapping: %v (entry dropped)", err)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("mapping document has no usable entries")
	}
	return mapping, nil
}

// fileRows parses the upload and splits header from data rows.
func fileRows(filename string, data []byte, headerHint int) (headers []string, dataRows [][]string, err error) {
	rows, err := parser.ReadBytes(filename, data, 0)
	if err != nil {
		return nil, nil, err
	}
	idx, headers, synthetic := analyzer.DetectHeader(rows, headerHint)
	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("no rows found in %s", filename)
	}
	start := idx + 1
	if synthetic {
		start = idx
	}
	if start > len(rows) {
		start = len(rows)
	}
	return headers, rows[start:], nil
}

// ---- analyze ----

func cmdAnalyze(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("analyze")
	file := fs.String("file", "", "file to analyze (csv, xlsx, or html table)")
	headerHint := fs.Int("header-hint", 0, "row index to start header detection at")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	start := time.Now()
	data, err := e.readUpload(*file)
	if err != nil {
		return err
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	name := filepath.Base(*file)
	hash, err := session.FileHash(data, map[string]any{"filename": name})
	if err != nil {
		return err
	}
	previous, err := store.FindByHash(ctx, hash)
	if err != nil {
		return err
	}

	sess, err := store.Create(ctx, name, hash)
	if err != nil {
		return err
	}
	if err := store.UpdateStatus(ctx, sess.ID, session.StatusAnalyzing); err != nil {
		return err
	}

	// Destination may be down; analysis degrades to file-only suggestions.
	var reflector schema.Reflector
	if r, err := openReflector(ctx, e.cfg); err != nil {
		log.Printf("analyze: destination unavailable: %v", err)
	} else {
		reflector = r
		defer r.Close()
	}

	rows, err := parser.ReadBytes(name, data, 200)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}

	a := &analyzer.Analyzer{
		Reflector: reflector,
		Log:       log.Default(),
		MinMatch:  e.cfg.MinMatchThreshold,
	}
	fa, err := a.Analyze(ctx, name, rows, *headerHint, e.loadTemplates(ctx, store))
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}

	// Persist the suggestion as the session's initial mapping document.
	suggested := map[string]any{}
	for header, m := range fa.Mapping {
		suggested[header] = map[string]any{"field": m.Field}
	}
	target := ""
	if len(fa.Tables) > 0 {
		target = fa.Tables[0].Table
	}
	doc, err := json.Marshal(suggested)
	if err != nil {
		return err
	}
	if err := store.SaveMapping(ctx, sess.ID, target, string(doc)); err != nil {
		return err
	}

	next := session.StatusMappingDefined
	if len(fa.Templates) > 0 {
		next = session.StatusTemplateSuggested
	}
	if err := store.UpdateStatus(ctx, sess.ID, next); err != nil {
		return err
	}
	note := fmt.Sprintf("analyzed %s: %d header columns, %d table candidates, %d template hits",
		name, len(fa.Headers), len(fa.Tables), len(fa.Templates))
	if err := store.AddNote(ctx, sess.ID, note); err != nil {
		return err
	}

	metrics.Stage(e.metricsBackend, "analyze", "ok", time.Since(start))

	out := struct {
		SessionID  string                 `json:"session_id"`
		ReuploadOf string                 `json:"reupload_of,omitempty"`
		Status     string                 `json:"status"`
		Analysis   *analyzer.FileAnalysis `json:"analysis"`
	}{SessionID: sess.ID, Status: next, Analysis: fa}
	if previous != nil {
		out.ReuploadOf = previous.ID
	}
	return printJSON(out)
}

// ---- map ----

func cmdMap(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("map")
	sessionID := fs.String("session", "", "session id")
	table := fs.String("table", "", "destination table")
	mappingPath := fs.String("mapping", "", "path to the mapping JSON document")
	fs.Parse(args)
	if *sessionID == "" || *mappingPath == "" {
		return fmt.Errorf("-session and -mapping are required")
	}

	doc, err := os.ReadFile(*mappingPath)
	if err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}
	mapping, errs := coerce.NormalizeMapping(raw)
	if len(errs) > 0 {
		for _, err := range errs {
			log.Printf("mapping: %v", err)
		}
		return fmt.Errorf("mapping document has %d invalid entries", len(errs))
	}
	if len(mapping) == 0 {
		return fmt.Errorf("mapping document is empty")
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Get(ctx, *sessionID)
	if err != nil {
		return err
	}
	target := *table
	if target == "" {
		target = sess.TargetTable
	}
	if target == "" {
		return fmt.Errorf("no destination table: pass -table or analyze first")
	}

	if err := store.SaveMapping(ctx, sess.ID, target, string(doc)); err != nil {
		return err
	}
	if sess.Status != session.StatusMappingApproved {
		if err := store.UpdateStatus(ctx, sess.ID, session.StatusMappingDefined); err != nil {
			return err
		}
		if err := store.UpdateStatus(ctx, sess.ID, session.StatusMappingApproved); err != nil {
			return err
		}
	}
	if err := store.AddNote(ctx, sess.ID, fmt.Sprintf("mapping approved for %s (%d columns)", target, len(mapping))); err != nil {
		return err
	}
	return printJSON(map[string]any{"session_id": sess.ID, "table": target, "columns": len(mapping)})
}

// ---- validate ----

func cmdValidate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("validate")
	sessionID := fs.String("session", "", "session id")
	file := fs.String("file", "", "file to validate")
	user := fs.String("user", "", "value for the current-user fill token")
	fs.Parse(args)
	if *sessionID == "" || *file == "" {
		return fmt.Errorf("-session and -file are required")
	}

	start := time.Now()
	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Get(ctx, *sessionID)
	if err != nil {
		return err
	}
	mapping, err := sessionMapping(sess)
	if err != nil {
		return err
	}

	data, err := e.readUpload(*file)
	if err != nil {
		return err
	}
	headers, dataRows, err := fileRows(filepath.Base(*file), data, 0)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}

	reflector, pool, pgErr := e.openPostgres(ctx)
	if pgErr != nil {
		log.Printf("validate: %v; destination checks skipped", pgErr)
	} else {
		defer reflector.Close()
	}

	var def *schema.TableDefinition
	if reflector != nil {
		if d, err := reflector.Reflect(ctx, sess.TargetTable); err != nil {
			log.Printf("validate: cannot reflect %s: %v", sess.TargetTable, err)
		} else {
			def = d
		}
	}

	v := &coerce.Validator{
		Def:         def,
		Log:         log.Default(),
		CurrentUser: *user,
		PreviewRows: e.cfg.PreviewRows,
	}
	var resolver *master.Resolver
	if reflector != nil {
		resolver = &master.Resolver{DB: pool, Reflector: reflector, Log: log.Default()}
		v.Resolver = resolver
	}

	res, err := v.Validate(ctx, headers, dataRows, mapping)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}

	// Queue unresolved master-data values for approval.
	queued := 0
	if resolver != nil {
		for _, entry := range mapping {
			if entry.MasterModel == "" {
				continue
			}
			for _, w := range res.Warnings {
				if w.Column == entry.Field && len(w.Values) > 0 {
					queued += resolver.RaiseCandidates(ctx, store, sess.ID, entry.MasterModel, w.Values)
				}
			}
		}
	}

	// Classify against existing destination rows when a usable key exists.
	if pool != nil && def != nil && len(def.PrimaryKey) > 0 {
		e.classifyAgainstDestination(ctx, pool, def, res)
	}

	report, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := store.SaveValidation(ctx, sess.ID, string(report)); err != nil {
		return err
	}

	if sess.Status != session.StatusDataValidated {
		if err := store.UpdateStatus(ctx, sess.ID, session.StatusDataValidated); err != nil {
			return err
		}
	}
	next := session.StatusDataValidated
	if queued > 0 {
		next = session.StatusPendingApproval
		if err := store.UpdateStatus(ctx, sess.ID, next); err != nil {
			return err
		}
	}
	note := fmt.Sprintf("validated %d rows: %d errors, %d warnings, %d duplicates in file, %d values queued",
		res.TotalRows, len(res.Errors), len(res.Warnings), res.ExactDuplicates.DuplicatesTotal, queued)
	if err := store.AddNote(ctx, sess.ID, note); err != nil {
		return err
	}

	status := "ok"
	if res.Blocked() {
		status = "blocked"
	}
	metrics.Stage(e.metricsBackend, "validate", status, time.Since(start))
	metrics.Rows(e.metricsBackend, "error", res.ErrorRows)

	return printJSON(map[string]any{
		"session_id": sess.ID,
		"status":     next,
		"blocked":    res.Blocked(),
		"report":     res,
	})
}

// classifyAgainstDestination probes existing key tuples (bounded) and folds
// exact duplicates and conflicts into the report.
func (e *env) classifyAgainstDestination(ctx context.Context, pool *pgxpool.Pool, def *schema.TableDefinition, res *coerce.Result) {
	keyCols := def.PrimaryKey
	isKey := map[string]bool{}
	for _, c := range keyCols {
		isKey[c] = true
	}
	compare := make([]string, 0, len(res.Columns))
	for _, c := range res.Columns {
		if _, ok := def.Columns[c]; ok && !isKey[c] {
			compare = append(compare, c)
		}
	}
	if len(compare) == 0 {
		return
	}

	cols := append(append([]string{}, keyCols...), compare...)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	limit := e.cfg.DedupProbeLimit
	q := fmt.Sprintf("SELECT %s FROM %s LIMIT %d",
		strings.Join(quoted, ", "),
		pgx.Identifier{orPublic(def.Schema), def.Name}.Sanitize(), limit)

	rows, err := pool.Query(ctx, q)
	if err != nil {
		log.Printf("validate: destination probe failed: %v", err)
		return
	}
	defer rows.Close()

	existing := map[string]map[string]any{}
	n := 0
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			log.Printf("validate: destination probe scan: %v", err)
			return
		}
		row := map[string]any{}
		for i, c := range cols {
			row[c] = vals[i]
		}
		existing[coerce.KeyOf(keyCols, row)] = row
		n++
	}
	if rows.Err() != nil {
		log.Printf("validate: destination probe: %v", rows.Err())
		return
	}
	res.DedupBounded = n == limit

	dups, conflicts := coerce.ClassifyAgainstExisting(res.Transformed, keyCols, compare, existing)
	res.ApplyDBCheck(dups, conflicts, keyCols)
}

// ---- import ----

func cmdImport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("import")
	sessionID := fs.String("session", "", "session id")
	file := fs.String("file", "", "file to import")
	strategy := fs.String("strategy", "", "append, upsert or replace (default: auto)")
	idMode := fs.String("id-mode", "", "id mode for created tables: auto, uuid, max_plus_one, pattern")
	idPattern := fs.String("id-pattern", "", "printf pattern for -id-mode=pattern, e.g. BUY-%04d")
	decisionsPath := fs.String("decisions", "", "JSON file of duplicate decisions {\"<row>\": \"import\"|\"skip\"}")
	relationshipsPath := fs.String("relationships", "", "JSON file of parent-child links for multi-table imports")
	user := fs.String("user", "", "value for the current-user fill token")
	fs.Parse(args)
	if *sessionID == "" || *file == "" {
		return fmt.Errorf("-session and -file are required")
	}

	start := time.Now()
	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Get(ctx, *sessionID)
	if err != nil {
		return err
	}
	mapping, err := sessionMapping(sess)
	if err != nil {
		return err
	}

	pending, err := store.Candidates(ctx, sess.ID, "pending")
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d master-data values still pending approval; resolve them first", len(pending))
	}

	// Walk the state machine to importing_data; cmdValidate left the
	// session in data_validated or pending_approval.
	if sess.Status != session.StatusImportingData {
		for _, step := range []string{session.StatusApproved, session.StatusImportingData} {
			if sess.Status == step {
				continue
			}
			if err := store.UpdateStatus(ctx, sess.ID, step); err != nil {
				return err
			}
			sess.Status = step
		}
	}

	data, err := e.readUpload(*file)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}
	headers, dataRows, err := fileRows(filepath.Base(*file), data, 0)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}

	reflector, pool, err := e.openPostgres(ctx)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}
	defer reflector.Close()

	var def *schema.TableDefinition
	if d, err := reflector.Reflect(ctx, sess.TargetTable); err == nil {
		def = d
	}

	v := &coerce.Validator{
		Def:         def,
		Resolver:    &master.Resolver{DB: pool, Reflector: reflector, Log: log.Default()},
		Log:         log.Default(),
		CurrentUser: *user,
		PreviewRows: e.cfg.PreviewRows,
	}
	res, err := v.Validate(ctx, headers, dataRows, mapping)
	if err != nil {
		return failSession(ctx, store, sess.ID, err)
	}
	if res.Blocked() {
		return failSession(ctx, store, sess.ID,
			fmt.Errorf("%w: %d errors", coerce.ErrValidationBlocked, len(res.Errors)))
	}

	decisions, err := loadDecisions(*decisionsPath)
	if err != nil {
		return err
	}
	relationships, err := loadRelationships(*relationshipsPath)
	if err != nil {
		return err
	}

	req := &importer.Request{
		SessionID:     sess.ID,
		Table:         sess.TargetTable,
		Columns:       res.Columns,
		ColumnTables:  columnTables(mapping),
		Rows:          res.Transformed,
		Originals:     originalRows(headers, dataRows),
		Decisions:     decisions,
		DuplicateRows: res.DBDuplicateRows,
		IDMode:        *idMode,
		IDPattern:     *idPattern,
		Relationships: relationships,
	}
	if *strategy != "" {
		req.Strategy = map[string]string{sess.TargetTable: *strategy}
	}

	exec := &importer.Executor{
		DB:           pool,
		Reflector:    reflector,
		Schema:       e.cfg.Destination.Schema,
		Log:          log.Default(),
		ChunkSize:    e.cfg.ChunkSize,
		DupThreshold: e.cfg.UpsertDuplicateRatio,
		SizeRatio:    e.cfg.AppendSizeRatio,
		ProbeLimit:   e.cfg.DedupProbeLimit,
		Progress: func(pct int) {
			if err := store.SetProgress(ctx, sess.ID, pct); err != nil {
				log.Printf("import: progress: %v", err)
			}
		},
		OnChunk: func() { metrics.Chunk(e.metricsBackend) },
	}

	result, err := exec.Run(ctx, req)
	if err != nil {
		metrics.Stage(e.metricsBackend, "import", "error", time.Since(start))
		return failSession(ctx, store, sess.ID, err)
	}

	if err := store.AppendLineage(ctx, result.Lineage); err != nil {
		return err
	}
	if err := store.UpdateStatus(ctx, sess.ID, session.StatusCompleted); err != nil {
		return err
	}
	if err := store.SetProgress(ctx, sess.ID, 100); err != nil {
		return err
	}
	note := fmt.Sprintf("imported into %v: %d inserted, %d updated, %d skipped",
		result.Tables, result.Inserted, result.Updated, result.Skipped)
	if err := store.AddNote(ctx, sess.ID, note); err != nil {
		return err
	}

	metrics.Stage(e.metricsBackend, "import", "ok", time.Since(start))
	metrics.Rows(e.metricsBackend, "inserted", result.Inserted)
	metrics.Rows(e.metricsBackend, "updated", result.Updated)
	metrics.Rows(e.metricsBackend, "skipped", result.Skipped)
	metrics.Session(e.metricsBackend, session.StatusCompleted)

	return printJSON(map[string]any{
		"session_id": sess.ID,
		"status":     session.StatusCompleted,
		"result":     result,
	})
}

func loadDecisions(path string) (map[int]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		row, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("decisions: bad row number %q", k)
		}
		out[row] = v
	}
	return out, nil
}

func loadRelationships(path string) ([]importer.Relationship, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rels []importer.Relationship
	if err := json.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("decode relationships: %w", err)
	}
	for i, r := range rels {
		if r.ParentTable == "" || r.LookupColumn == "" || r.FKColumn == "" || r.SourceColumn == "" {
			return nil, fmt.Errorf("relationships[%d]: all four fields are required", i)
		}
	}
	return rels, nil
}

// originalRows rebuilds the as-read form of each data row, keyed by header,
// for the lineage value documents.
func originalRows(headers []string, dataRows [][]string) []map[string]string {
	out := make([]map[string]string, len(dataRows))
	for i, row := range dataRows {
		m := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(row) {
				m[h] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

// columnTables extracts the per-column fan-out routing from the mapping.
func columnTables(mapping map[string]coerce.MappingEntry) map[string]string {
	out := map[string]string{}
	for _, entry := range mapping {
		if entry.Table != "" && entry.Field != "" {
			out[entry.Field] = entry.Table
		}
	}
	return out
}

// ---- rollback ----

func cmdRollback(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("rollback")
	sessionID := fs.String("session", "", "session id")
	user := fs.String("user", "", "actor recorded on the rolled-back lineage")
	fs.Parse(args)
	if *sessionID == "" {
		return fmt.Errorf("-session is required")
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Get(ctx, *sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusCompleted {
		return fmt.Errorf("session %s is %s; only completed sessions roll back", sess.ID, sess.Status)
	}

	lineage, err := store.Lineage(ctx, sess.ID)
	if err != nil {
		return err
	}

	reflector, pool, err := e.openPostgres(ctx)
	if err != nil {
		return err
	}
	defer reflector.Close()

	exec := &importer.Executor{
		DB:        pool,
		Reflector: reflector,
		Schema:    e.cfg.Destination.Schema,
		Log:       log.Default(),
	}
	result, err := exec.Rollback(ctx, lineage)
	if err != nil {
		return err
	}

	if err := store.MarkLineageRolledBack(ctx, sess.ID, *user); err != nil {
		return err
	}
	if err := store.UpdateStatus(ctx, sess.ID, session.StatusRolledBack); err != nil {
		return err
	}
	if err := store.AddNote(ctx, sess.ID, fmt.Sprintf("rolled back: %v", result.Deleted)); err != nil {
		return err
	}
	metrics.Session(e.metricsBackend, session.StatusRolledBack)

	return printJSON(map[string]any{
		"session_id": sess.ID,
		"status":     session.StatusRolledBack,
		"deleted":    result.Deleted,
	})
}

// ---- plan-schema ----

func cmdPlanSchema(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("plan-schema")
	proposalsPath := fs.String("proposals", "", "JSON file of schema-change proposals")
	apply := fs.Bool("apply", false, "apply the plan after printing it")
	fs.Parse(args)
	if *proposalsPath == "" {
		return fmt.Errorf("-proposals is required")
	}

	data, err := os.ReadFile(*proposalsPath)
	if err != nil {
		return err
	}
	var proposals []schemachange.Proposal
	if err := json.Unmarshal(data, &proposals); err != nil {
		return fmt.Errorf("decode proposals: %w", err)
	}

	reflector, pool, err := e.openPostgres(ctx)
	if err != nil {
		return err
	}
	defer reflector.Close()

	snap, err := schemachange.LoadSnapshot(ctx, pool, e.cfg.Destination.Schema)
	if err != nil {
		return err
	}
	plan, err := schemachange.BuildPlan(snap, proposals)
	if err != nil {
		return err
	}

	if *apply {
		exec := &schemachange.Executor{DB: pool, Log: log.Default()}
		if err := exec.Apply(ctx, plan); err != nil {
			return err
		}
	}
	return printJSON(map[string]any{"applied": *apply, "plan": plan})
}

// ---- candidates ----

func cmdCandidates(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("candidates")
	sessionID := fs.String("session", "", "session id")
	resolve := fs.Int64("resolve", 0, "candidate id to resolve")
	status := fs.String("status", "", "approved or rejected (with -resolve)")
	fs.Parse(args)
	if *sessionID == "" && *resolve == 0 {
		return fmt.Errorf("-session or -resolve is required")
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if *resolve != 0 {
		if *status == "" {
			return fmt.Errorf("-status is required with -resolve")
		}
		if err := store.ResolveCandidate(ctx, *resolve, *status); err != nil {
			return err
		}
		return printJSON(map[string]any{"resolved": *resolve, "status": *status})
	}

	list, err := store.Candidates(ctx, *sessionID, "")
	if err != nil {
		return err
	}
	return printJSON(list)
}

// ---- template ----

func cmdTemplate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("template")
	id := fs.String("id", "", "template id")
	name := fs.String("name", "", "display name")
	table := fs.String("table", "", "target table")
	patterns := fs.String("patterns", "", "comma-separated filename patterns, e.g. production_*.csv")
	mappingPath := fs.String("mapping", "", "path to a header-to-column mapping JSON object")
	proposalsPath := fs.String("proposals", "", "optional JSON file of staged schema-change proposals")
	fs.Parse(args)
	if *id == "" || *table == "" || *mappingPath == "" {
		return fmt.Errorf("-id, -table and -mapping are required")
	}

	mapping, err := os.ReadFile(*mappingPath)
	if err != nil {
		return err
	}
	var check map[string]string
	if err := json.Unmarshal(mapping, &check); err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}

	var pats []string
	for _, p := range strings.Split(*patterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pats = append(pats, p)
		}
	}
	patsJSON, err := json.Marshal(pats)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(check))
	for h := range check {
		fields = append(fields, h)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	proposals := ""
	if *proposalsPath != "" {
		data, err := os.ReadFile(*proposalsPath)
		if err != nil {
			return err
		}
		var staged []schemachange.Proposal
		if err := json.Unmarshal(data, &staged); err != nil {
			return fmt.Errorf("decode proposals: %w", err)
		}
		proposals = string(data)
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	displayName := *name
	if displayName == "" {
		displayName = *id
	}
	if err := store.SaveTemplate(ctx, *id, displayName, *table,
		string(patsJSON), string(fieldsJSON), string(mapping), proposals); err != nil {
		return err
	}
	return printJSON(map[string]any{"id": *id, "table": *table, "patterns": pats, "fields": len(fields)})
}

// ---- cancel ----

func cmdCancel(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("cancel")
	sessionID := fs.String("session", "", "session id")
	fs.Parse(args)
	if *sessionID == "" {
		return fmt.Errorf("-session is required")
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpdateStatus(ctx, *sessionID, session.StatusCancelled); err != nil {
		return err
	}
	if err := store.AddNote(ctx, *sessionID, "cancelled by operator"); err != nil {
		return err
	}
	metrics.Session(e.metricsBackend, session.StatusCancelled)
	return printJSON(map[string]any{"session_id": *sessionID, "status": session.StatusCancelled})
}

// ---- shared helpers ----

// failSession marks the session failed with the error message, then
// returns the error for the command to surface.
func failSession(ctx context.Context, store *session.Store, id string, cause error) error {
	if err := store.SetError(ctx, id, cause.Error()); err != nil {
		log.Printf("session %s: record error: %v", id, err)
	}
	if err := store.UpdateStatus(ctx, id, session.StatusFailed); err != nil {
		log.Printf("session %s: mark failed: %v", id, err)
	}
	return cause
}

func orPublic(s string) string {
	if s == "" {
		return "public"
	}
	return s
}
