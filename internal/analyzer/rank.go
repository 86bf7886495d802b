package analyzer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"ingest/internal/naming"
	"ingest/internal/schema"
)

// Scoring weights. Coverage dominates: a table that explains more of the
// file's columns beats one with a few excellent matches.
const (
	tableCoverageWeight   = 0.6
	tableSimilarityWeight = 0.4
	templateTargetBonus   = 0.05

	templateCoverageWeight = 0.7
	fileCoverageWeight     = 0.3

	templateMappingConfidence = 0.95

	filenameScoreFloor = 0.5
	filenameScoreCap   = 0.95
)

// Template is the slice of a stored report template the analyzer needs.
type Template struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	TargetTable      string            `json:"target_table"`
	FilenamePatterns []string          `json:"filename_patterns"`
	Fields           []string          `json:"fields"`
	Mapping          map[string]string `json:"mapping"` // source header -> destination field
}

// ColumnMatch is the best destination column for one file header.
type ColumnMatch struct {
	Column     string  `json:"column"`
	Similarity float64 `json:"similarity"`
}

// TableCandidate is one ranked destination table.
type TableCandidate struct {
	Table         string                 `json:"table"`
	Score         float64                `json:"score"`
	Coverage      float64                `json:"coverage"`
	AvgSimilarity float64                `json:"avg_similarity"`
	Matches       map[string]ColumnMatch `json:"matches"`
}

// TemplateCandidate is one template matched by filename or column overlap.
type TemplateCandidate struct {
	TemplateID string   `json:"template_id"`
	Name       string   `json:"name"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons"`
}

// RankTables scores each reflected destination table against the file
// headers. minMatch is the similarity floor below which a column match is
// discarded.
func RankTables(headers []string, defs []*schema.TableDefinition, templates []Template, minMatch float64) []TableCandidate {
	if len(headers) == 0 {
		return nil
	}

	templateTargets := map[string]bool{}
	for _, t := range templates {
		if t.TargetTable != "" {
			templateTargets[naming.Normalize(t.TargetTable, 0)] = true
		}
	}

	out := make([]TableCandidate, 0, len(defs))
	for _, def := range defs {
		if def == nil || len(def.Columns) == 0 {
			continue
		}

		cand := TableCandidate{Table: def.Name, Matches: map[string]ColumnMatch{}}
		simSum := 0.0
		for _, h := range headers {
			best := ColumnMatch{}
			for _, col := range def.ColumnOrder {
				if s := Similarity(h, col); s > best.Similarity {
					best = ColumnMatch{Column: col, Similarity: s}
				}
			}
			if best.Similarity >= minMatch {
				cand.Matches[h] = best
				simSum += best.Similarity
			}
		}

		if len(cand.Matches) == 0 {
			continue
		}
		cand.Coverage = float64(len(cand.Matches)) / float64(len(headers))
		cand.AvgSimilarity = simSum / float64(len(cand.Matches))
		cand.Score = tableCoverageWeight*cand.Coverage + tableSimilarityWeight*cand.AvgSimilarity
		if templateTargets[naming.Normalize(def.Name, 0)] {
			cand.Score += templateTargetBonus
		}
		if cand.Score > 1 {
			cand.Score = 1
		}
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Table < out[j].Table
	})
	return out
}

// MatchTemplates matches stored templates by filename pattern and by column
// overlap with the template's expected fields. Candidates for the same
// template are merged, keeping the maximum score and the union of reasons.
func MatchTemplates(filename string, headers []string, templates []Template) []TemplateCandidate {
	base := strings.ToLower(filepath.Base(filename))
	merged := map[string]*TemplateCandidate{}

	add := func(t Template, score float64, reason string) {
		c, ok := merged[t.ID]
		if !ok {
			c = &TemplateCandidate{TemplateID: t.ID, Name: t.Name}
			merged[t.ID] = c
		}
		if score > c.Score {
			c.Score = score
		}
		c.Reasons = append(c.Reasons, reason)
	}

	headerSet := map[string]bool{}
	for _, h := range headers {
		headerSet[naming.Normalize(h, 0)] = true
	}

	for _, t := range templates {
		for _, pat := range t.FilenamePatterns {
			p := strings.ToLower(strings.TrimSpace(pat))
			if p == "" {
				continue
			}
			ok, err := filepath.Match(p, base)
			if err != nil || !ok {
				ok = strings.Contains(base, strings.Trim(p, "*"))
			}
			if !ok {
				continue
			}
			score := float64(len(p)) / float64(max(1, len(base)))
			if score < filenameScoreFloor {
				score = filenameScoreFloor
			}
			if score > filenameScoreCap {
				score = filenameScoreCap
			}
			add(t, score, fmt.Sprintf("filename matches pattern %q", pat))
		}

		fields := t.Fields
		if len(fields) == 0 {
			for h := range t.Mapping {
				fields = append(fields, h)
			}
		}
		if len(fields) == 0 || len(headers) == 0 {
			continue
		}
		overlap := 0
		for _, f := range fields {
			if headerSet[naming.Normalize(f, 0)] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		tc := float64(overlap) / float64(len(fields))
		fc := float64(overlap) / float64(len(headers))
		add(t, templateCoverageWeight*tc+fileCoverageWeight*fc,
			fmt.Sprintf("column overlap %d/%d", overlap, len(fields)))
	}

	out := make([]TemplateCandidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TemplateID < out[j].TemplateID
	})
	return out
}
