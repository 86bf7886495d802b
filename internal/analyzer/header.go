package analyzer

import (
	"fmt"
	"strconv"
	"strings"
)

// headerScanDepth is how many candidate rows are scored: the declared header
// row plus the next nine. Compensates for title rows and merged-cell exports
// where the real header is not row zero.
const headerScanDepth = 10

// longCellLimit: a header cell longer than this suggests the row is data or
// prose, not column names.
const longCellLimit = 40

// DetectHeader scores candidate rows starting at hint and returns the index
// of the most header-like row plus its cleaned column names.
//
// synthetic is true when no scanned row contained a single alphabetic cell;
// the returned headers are then col_1..col_N over the widest row and the
// header index is hint (all rows are data).
func DetectHeader(rows [][]string, hint int) (idx int, headers []string, synthetic bool) {
	if hint < 0 {
		hint = 0
	}
	if len(rows) == 0 || hint >= len(rows) {
		return hint, nil, true
	}

	bestIdx, bestScore := hint, -1.0
	bestAlpha := 0.0
	for i := hint; i < len(rows) && i < hint+headerScanDepth; i++ {
		score, alpha := headerScore(rows[i])
		if score > bestScore {
			bestIdx, bestScore, bestAlpha = i, score, alpha
		}
	}

	if bestAlpha == 0 {
		width := 0
		for _, r := range rows {
			if len(r) > width {
				width = len(r)
			}
		}
		headers = make([]string, width)
		for i := range headers {
			headers[i] = "col_" + strconv.Itoa(i+1)
		}
		return hint, headers, true
	}

	headers = make([]string, len(rows[bestIdx]))
	for i, c := range rows[bestIdx] {
		c = strings.TrimSpace(c)
		if c == "" {
			c = fmt.Sprintf("col_%d", i+1)
		}
		headers[i] = c
	}
	return bestIdx, headers, false
}

// headerScore rates how header-like a row is:
//
//	0.45*distinctRatio + 0.45*alphaRatio - 0.25*numericRatio - 0.15*hasLongCell
//
// clamped to [0,1]. Also returns the alpha ratio so the caller can detect
// the all-numeric fallback case.
func headerScore(row []string) (score, alphaRatio float64) {
	if len(row) == 0 {
		return 0, 0
	}

	n := float64(len(row))
	seen := map[string]struct{}{}
	distinct, alpha, numeric := 0, 0, 0
	longCell := false

	for _, c := range row {
		c = strings.TrimSpace(c)
		if c != "" {
			if _, dup := seen[c]; !dup {
				seen[c] = struct{}{}
				distinct++
			}
		}
		if containsLetter(c) {
			alpha++
		}
		if c != "" {
			if _, err := strconv.ParseFloat(strings.ReplaceAll(c, ",", ""), 64); err == nil {
				numeric++
			}
		}
		if len(c) > longCellLimit {
			longCell = true
		}
	}

	score = 0.45*float64(distinct)/n + 0.45*float64(alpha)/n - 0.25*float64(numeric)/n
	if longCell {
		score -= 0.15
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, float64(alpha) / n
}

func containsLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127 {
			return true
		}
	}
	return false
}
