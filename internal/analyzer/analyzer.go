// Package analyzer infers where a tabular file should land in the
// destination schema: which row is the header, which table the file maps
// to, how each column maps, and what a normalized fact/dimension layout
// would look like when nothing matches.
package analyzer

import (
	"context"

	"ingest/internal/schema"
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// MappingSuggestion is one proposed source-header -> destination-field
// binding with its confidence.
type MappingSuggestion struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"` // "template", "fuzzy" or "new_dimension"

	SemanticType string `json:"semantic_type,omitempty"`
	Nullable     bool   `json:"nullable,omitempty"`
	FKTable      string `json:"fk_table,omitempty"`

	// NewTable is set for new_dimension suggestions: the proposed lookup
	// table the field would reference.
	NewTable string `json:"new_table,omitempty"`
}

// FileAnalysis is the full result of analyzing one file.
type FileAnalysis struct {
	HeaderRow       int                          `json:"header_row"`
	Headers         []string                     `json:"headers"`
	SyntheticHeader bool                         `json:"synthetic_header"`
	SampleRows      [][]string                   `json:"sample_rows,omitempty"`
	Tables          []TableCandidate             `json:"tables,omitempty"`
	Templates       []TemplateCandidate          `json:"templates,omitempty"`
	Mapping         map[string]MappingSuggestion `json:"mapping,omitempty"`
	Model           ModelProposal                `json:"model"`

	// SchemaUnavailable marks a degraded, file-only analysis (destination
	// unreachable). Header detection and classification are still valid.
	SchemaUnavailable bool `json:"schema_unavailable,omitempty"`
}

// Analyzer wires the pieces together. Reflector may be nil for file-only
// analysis.
type Analyzer struct {
	Reflector schema.Reflector
	Log       Logger

	// MinMatch is the similarity floor for fuzzy matches (0 picks the
	// conventional 0.45).
	MinMatch float64
}

func (a *Analyzer) logger() Logger {
	if a.Log != nil {
		return a.Log
	}
	return nopLogger{}
}

func (a *Analyzer) minMatch() float64 {
	if a.MinMatch > 0 {
		return a.MinMatch
	}
	return 0.45
}

// Analyze runs the full pipeline over sampled raw rows. headerHint is the
// declared header row index (0 when unknown). Destination errors degrade to
// a file-only analysis rather than failing.
func (a *Analyzer) Analyze(ctx context.Context, filename string, rows [][]string, headerHint int, templates []Template) (*FileAnalysis, error) {
	idx, headers, synthetic := DetectHeader(rows, headerHint)

	dataStart := idx
	if !synthetic {
		dataStart = idx + 1
	}
	var dataRows [][]string
	if dataStart < len(rows) {
		dataRows = rows[dataStart:]
	}

	classes := ClassifyColumns(headers, dataRows)

	out := &FileAnalysis{
		HeaderRow:       idx,
		Headers:         headers,
		SyntheticHeader: synthetic,
		SampleRows:      dataRows,
		Model:           ProposeModel(classes),
	}

	out.Templates = MatchTemplates(filename, headers, templates)

	defs, err := a.reflectAll(ctx)
	if err != nil {
		a.logger().Printf("analyze: destination unavailable, returning file-only analysis: %v", err)
		out.SchemaUnavailable = true
		return out, nil
	}

	out.Tables = RankTables(headers, defs, templates, a.minMatch())

	var topDef *schema.TableDefinition
	if len(out.Tables) > 0 {
		for _, d := range defs {
			if d.Name == out.Tables[0].Table {
				topDef = d
				break
			}
		}
	}
	out.Mapping = a.suggestMapping(out, topDef, templates)
	return out, nil
}

// reflectAll lists and reflects every destination table. Individual table
// reflection failures are skipped; a failure to even list tables is the
// degraded case.
func (a *Analyzer) reflectAll(ctx context.Context) ([]*schema.TableDefinition, error) {
	if a.Reflector == nil {
		return nil, schema.ErrTableNotFound
	}

	names, err := a.Reflector.Tables(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]*schema.TableDefinition, 0, len(names))
	for _, name := range names {
		def, err := a.Reflector.Reflect(ctx, name)
		if err != nil {
			a.logger().Printf("analyze: skipping table %s: %v", name, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// suggestMapping builds per-column suggestions for the top-ranked table.
// Template hits win over fuzzy matches; unmatched dimension columns get a
// new-lookup-table suggestion.
func (a *Analyzer) suggestMapping(fa *FileAnalysis, topDef *schema.TableDefinition, templates []Template) map[string]MappingSuggestion {
	if len(fa.Tables) == 0 {
		return nil
	}
	top := fa.Tables[0]

	// Prefer the best-scoring template that targets the top table, else the
	// best template overall.
	var tmpl *Template
	for i := range fa.Templates {
		for j := range templates {
			if templates[j].ID != fa.Templates[i].TemplateID {
				continue
			}
			if tmpl == nil || templates[j].TargetTable == top.Table {
				tmpl = &templates[j]
			}
			if templates[j].TargetTable == top.Table {
				break
			}
		}
		if tmpl != nil && tmpl.TargetTable == top.Table {
			break
		}
	}

	dims := map[string]DimensionProposal{}
	for _, d := range fa.Model.Dimensions {
		dims[d.SourceColumn] = d
	}

	out := map[string]MappingSuggestion{}
	for _, h := range fa.Headers {
		if tmpl != nil {
			if field, ok := tmpl.Mapping[h]; ok && field != "" {
				out[h] = MappingSuggestion{
					Field:      field,
					Confidence: templateMappingConfidence,
					Source:     "template",
				}
				continue
			}
		}

		if m, ok := top.Matches[h]; ok {
			s := MappingSuggestion{
				Field:      m.Column,
				Confidence: m.Similarity,
				Source:     "fuzzy",
			}
			if topDef != nil {
				if col, ok := topDef.Columns[m.Column]; ok {
					s.SemanticType = col.SemanticType
					s.Nullable = col.Nullable
					if col.References != nil {
						s.FKTable = col.References.RefTable
					}
				}
			}
			out[h] = s
			continue
		}

		if d, ok := dims[h]; ok {
			out[h] = MappingSuggestion{
				Field:      d.FKField,
				Confidence: 0.5,
				Source:     "new_dimension",
				NewTable:   d.Table,
			}
		}
	}
	return out
}
