package coerce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ingest/internal/schema"
)

// ErrValidationBlocked is returned by callers that refuse to proceed past a
// report with errors.
var ErrValidationBlocked = errors.New("validation blocked")

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// MasterResolver resolves human-readable values to destination ids. The
// concrete implementation lives elsewhere; validation only needs this
// surface.
type MasterResolver interface {
	ResolveIDs(ctx context.Context, entity string, names []string, lookupField string) (found map[string]int64, notFound map[string]struct{}, err error)
}

// Issue is one validation finding. Rows are 1-based data row numbers.
type Issue struct {
	Column string   `json:"column"`
	Issue  string   `json:"issue"`
	Rows   []int    `json:"rows,omitempty"`
	Values []string `json:"values,omitempty"`
}

// DuplicateGroup is one set of identical rows.
type DuplicateGroup struct {
	Count      int   `json:"count"`
	SampleRows []int `json:"sample_rows"` // up to 3, 1-based
}

// DuplicateSummary aggregates in-file exact duplicates.
// DuplicatesTotal == sum(count-1) over all groups.
type DuplicateSummary struct {
	DuplicatesTotal int              `json:"duplicates_total"`
	Groups          []DuplicateGroup `json:"groups,omitempty"`
}

// Result is the structured validation report.
type Result struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`

	ExactDuplicates DuplicateSummary `json:"exact_duplicates"`
	DBDuplicateRows []int            `json:"db_duplicate_rows,omitempty"`
	DBConflictRows  []int            `json:"db_conflict_rows,omitempty"`

	// Columns are the mapped destination columns in stable order;
	// Transformed holds every coerced row keyed by those columns.
	Columns     []string         `json:"columns"`
	Transformed []map[string]any `json:"-"`
	Preview     []map[string]any `json:"preview"`

	TotalRows int `json:"total_rows"`
	ErrorRows int `json:"error_rows"`

	// DedupBounded flags that a destination duplicate probe was cut off at
	// its configured limit and may under-report.
	DedupBounded bool `json:"dedup_bounded,omitempty"`
}

// Blocked reports whether the import stage must be refused.
func (r *Result) Blocked() bool { return len(r.Errors) > 0 }

// Validator applies a mapping against a destination table definition.
type Validator struct {
	// Def may be nil when the destination could not be reflected; fill and
	// copy still run so the preview remains inspectable.
	Def *schema.TableDefinition

	Resolver MasterResolver
	Log      Logger

	// Now and CurrentUser feed the fill tokens. Now defaults to time.Now.
	Now         func() time.Time
	CurrentUser string

	PreviewRows int
}

func (v *Validator) logger() Logger {
	if v.Log != nil {
		return v.Log
	}
	return nopLogger{}
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Validator) previewRows() int {
	if v.PreviewRows > 0 {
		return v.PreviewRows
	}
	return 10
}

// Validate coerces rows through mapping and produces the report. rows are
// data rows only (header already stripped).
func (v *Validator) Validate(ctx context.Context, headers []string, rows [][]string, mapping map[string]MappingEntry) (*Result, error) {
	res := &Result{TotalRows: len(rows)}

	headerIdx := map[string]int{}
	for i, h := range headers {
		headerIdx[h] = i
	}

	// Stable column order: file order first, then fill-only entries.
	type binding struct {
		header string
		srcIdx int // -1 for fill-only
		entry  MappingEntry
	}
	var bindings []binding
	seen := map[string]bool{}
	for _, h := range headers {
		if e, ok := mapping[h]; ok && e.Field != "" {
			bindings = append(bindings, binding{header: h, srcIdx: headerIdx[h], entry: e})
			seen[h] = true
		}
	}
	var extras []string
	for h, e := range mapping {
		if !seen[h] && e.Field != "" {
			extras = append(extras, h)
		}
	}
	sort.Strings(extras)
	for _, h := range extras {
		bindings = append(bindings, binding{header: h, srcIdx: -1, entry: mapping[h]})
	}

	for _, b := range bindings {
		res.Columns = append(res.Columns, b.entry.Field)
	}

	if len(bindings) == 0 {
		// Nothing mapped yet: surface raw rows so the mapping UI has
		// something to show.
		for i, r := range rows {
			if i >= v.previewRows() {
				break
			}
			m := map[string]any{}
			for j, h := range headers {
				if j < len(r) {
					m[h] = r[j]
				}
			}
			res.Preview = append(res.Preview, m)
		}
		return res, nil
	}

	// Pass 1: fill strategies and raw copy.
	transformed := make([]map[string]any, len(rows))
	for i, row := range rows {
		out := make(map[string]any, len(bindings))
		for _, b := range bindings {
			switch b.entry.FillMode {
			case FillConstant:
				out[b.entry.Field] = v.expandFill(b.entry.FillValue)
			case FillAutoSequence:
				out[b.entry.Field] = int64(i + 1)
			default:
				if b.srcIdx >= 0 && b.srcIdx < len(row) {
					out[b.entry.Field] = strings.TrimSpace(row[b.srcIdx])
				} else {
					out[b.entry.Field] = nil
				}
			}
		}
		transformed[i] = out
	}

	// Pass 2: master-data resolution.
	for _, b := range bindings {
		if b.entry.MasterModel == "" {
			continue
		}
		v.resolveMaster(ctx, b.entry, transformed, res)
	}

	// Pass 3: type coercion against the destination definition.
	errorRows := map[int]bool{}
	for _, b := range bindings {
		if b.entry.MasterModel != "" {
			continue // already an id
		}
		col, ok := v.columnDef(b.entry.Field)
		if !ok {
			continue
		}
		var badRows []int
		var badValues []string
		for i := range transformed {
			raw, isStr := transformed[i][b.entry.Field].(string)
			if !isStr {
				continue
			}
			val, err := Value(col.SemanticType, raw)
			if err != nil {
				transformed[i][b.entry.Field] = nil
				badRows = append(badRows, i+1)
				if len(badValues) < 3 {
					badValues = append(badValues, raw)
				}
				errorRows[i] = true
				continue
			}
			transformed[i][b.entry.Field] = val
		}
		if len(badRows) > 0 {
			res.Errors = append(res.Errors, Issue{
				Column: b.entry.Field,
				Issue:  fmt.Sprintf("%d value(s) not valid for type %s", len(badRows), col.SemanticType),
				Rows:   badRows,
				Values: badValues,
			})
		}
	}

	// Unmapped destination columns.
	v.checkUnmapped(res)

	// Null checks for non-nullable mapped columns.
	for _, b := range bindings {
		col, ok := v.columnDef(b.entry.Field)
		if !ok || col.Nullable || col.Default != "" {
			continue
		}
		var nullRows []int
		for i := range transformed {
			if transformed[i][b.entry.Field] == nil || Canonical(transformed[i][b.entry.Field]) == "" {
				nullRows = append(nullRows, i+1)
				errorRows[i] = true
			}
		}
		if len(nullRows) > 0 {
			res.Errors = append(res.Errors, Issue{
				Column: b.entry.Field,
				Issue:  "required column has blank values",
				Rows:   nullRows,
			})
		}
	}

	res.Transformed = transformed
	res.ErrorRows = len(errorRows)
	res.ExactDuplicates = FindExactDuplicates(res.Columns, transformed)

	for i, row := range transformed {
		if i >= v.previewRows() {
			break
		}
		res.Preview = append(res.Preview, row)
	}
	return res, nil
}

// expandFill resolves the convenience tokens; other values pass through.
func (v *Validator) expandFill(fill string) any {
	tok, ok := FillToken(fill)
	if !ok {
		return fill
	}
	switch tok {
	case TokenToday:
		return v.now().Format("2006-01-02")
	case TokenNow:
		return v.now()
	case TokenCurrentUser:
		return v.CurrentUser
	}
	return fill
}

func (v *Validator) columnDef(field string) (schema.Column, bool) {
	if v.Def == nil {
		return schema.Column{}, false
	}
	c, ok := v.Def.Columns[field]
	return c, ok
}

// resolveMaster replaces names with looked-up ids. Unresolved names become
// a warning; rows whose source value was non-null but resolved to nothing
// become an error.
func (v *Validator) resolveMaster(ctx context.Context, e MappingEntry, transformed []map[string]any, res *Result) {
	if v.Resolver == nil {
		res.Warnings = append(res.Warnings, Issue{
			Column: e.Field,
			Issue:  fmt.Sprintf("master data model %q configured but no resolver available", e.MasterModel),
		})
		return
	}

	nameSet := map[string]struct{}{}
	for i := range transformed {
		if s, ok := transformed[i][e.Field].(string); ok && !IsNull(s) {
			nameSet[strings.TrimSpace(s)] = struct{}{}
		}
	}
	if len(nameSet) == 0 {
		return
	}
	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)

	found, notFound, err := v.Resolver.ResolveIDs(ctx, e.MasterModel, names, e.LookupField)
	if err != nil {
		v.logger().Printf("validate: master lookup for %s failed: %v", e.MasterModel, err)
		res.Warnings = append(res.Warnings, Issue{
			Column: e.Field,
			Issue:  fmt.Sprintf("master data lookup against %q failed: %v", e.MasterModel, err),
		})
		return
	}

	if len(notFound) > 0 {
		values := make([]string, 0, len(notFound))
		for n := range notFound {
			values = append(values, n)
		}
		sort.Strings(values)
		res.Warnings = append(res.Warnings, Issue{
			Column: e.Field,
			Issue:  fmt.Sprintf("%d value(s) have no match in %s and were queued for approval", len(values), e.MasterModel),
			Values: values,
		})
	}

	var unresolvedRows []int
	for i := range transformed {
		s, ok := transformed[i][e.Field].(string)
		if !ok {
			continue
		}
		if IsNull(s) {
			transformed[i][e.Field] = nil
			continue
		}
		if id, ok := found[strings.TrimSpace(s)]; ok {
			transformed[i][e.Field] = id
		} else {
			transformed[i][e.Field] = nil
			unresolvedRows = append(unresolvedRows, i+1)
		}
	}
	if len(unresolvedRows) > 0 {
		res.Errors = append(res.Errors, Issue{
			Column: e.Field,
			Issue:  "non-null values could not be resolved to master data ids",
			Rows:   unresolvedRows,
		})
	}
}

// checkUnmapped flags destination columns the mapping does not cover.
// Required columns are errors; unmapped primary keys downgrade to a
// warning so preview can proceed (ids are often synthesized at import
// time).
func (v *Validator) checkUnmapped(res *Result) {
	if v.Def == nil {
		return
	}
	mapped := map[string]bool{}
	for _, c := range res.Columns {
		mapped[c] = true
	}

	for _, name := range v.Def.ColumnOrder {
		if mapped[name] {
			continue
		}
		col := v.Def.Columns[name]
		switch {
		case col.IsPrimaryKey && col.Default == "":
			res.Warnings = append(res.Warnings, Issue{
				Column: name,
				Issue:  "primary key column is not mapped",
			})
		case !col.Nullable && col.Default == "":
			res.Errors = append(res.Errors, Issue{
				Column: name,
				Issue:  "required column is not mapped and has no default",
			})
		}
	}
}

// FindExactDuplicates groups rows by full-row hash over the mapped
// columns. The invariant duplicates_total == sum(count-1) holds by
// construction.
func FindExactDuplicates(columns []string, rows []map[string]any) DuplicateSummary {
	groups := map[string][]int{}
	var order []string
	for i, row := range rows {
		h := RowHash(columns, row)
		if _, ok := groups[h]; !ok {
			order = append(order, h)
		}
		groups[h] = append(groups[h], i+1)
	}

	var sum DuplicateSummary
	for _, h := range order {
		members := groups[h]
		if len(members) < 2 {
			continue
		}
		g := DuplicateGroup{Count: len(members)}
		for _, rowNum := range members {
			if len(g.SampleRows) == 3 {
				break
			}
			g.SampleRows = append(g.SampleRows, rowNum)
		}
		sum.Groups = append(sum.Groups, g)
		sum.DuplicatesTotal += len(members) - 1
	}
	return sum
}

// ClassifyAgainstExisting compares incoming rows to destination rows that
// share their primary-key tuple. Identical rows (null equals null) are
// duplicates; same key with any differing value is a conflict under the
// append-only policy.
//
// existing is keyed by the canonical key tuple (KeyOf). compareCols are the
// columns present on both sides.
func ClassifyAgainstExisting(incoming []map[string]any, keyCols, compareCols []string, existing map[string]map[string]any) (dupRows, conflictRows []int) {
	for i, row := range incoming {
		ex, ok := existing[KeyOf(keyCols, row)]
		if !ok {
			continue
		}
		conflict := false
		for _, c := range compareCols {
			if !Equal(row[c], ex[c]) {
				conflict = true
				break
			}
		}
		if conflict {
			conflictRows = append(conflictRows, i+1)
		} else {
			dupRows = append(dupRows, i+1)
		}
	}
	return dupRows, conflictRows
}

// ApplyDBCheck folds destination duplicate/conflict findings into the
// report: duplicates warn, conflicts block.
func (r *Result) ApplyDBCheck(dupRows, conflictRows []int, keyCols []string) {
	r.DBDuplicateRows = dupRows
	r.DBConflictRows = conflictRows
	if len(dupRows) > 0 {
		r.Warnings = append(r.Warnings, Issue{
			Column: strings.Join(keyCols, ","),
			Issue:  fmt.Sprintf("%d row(s) already exist in the destination with identical values", len(dupRows)),
			Rows:   dupRows,
		})
	}
	if len(conflictRows) > 0 {
		r.Errors = append(r.Errors, Issue{
			Column: strings.Join(keyCols, ","),
			Issue:  fmt.Sprintf("%d row(s) collide on the primary key with different values (append-only policy)", len(conflictRows)),
			Rows:   conflictRows,
		})
	}
}

// KeyOf renders a primary-key tuple in canonical form for map lookups.
func KeyOf(keyCols []string, row map[string]any) string {
	parts := make([]string, len(keyCols))
	for i, c := range keyCols {
		parts[i] = Canonical(row[c])
	}
	return strings.Join(parts, "\x1f")
}
