package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"ingest/internal/coerce"
)

// InferSQLType picks a column type for auto-created tables from sample
// values. Null equivalents are ignored; an all-null column lands on TEXT.
//
// Numeric columns prefer INTEGER, widening to BIGINT when any value needs
// it. Short text gets a VARCHAR sized with headroom over the longest sample
// (never under 50, never over 255); anything longer is TEXT.
func InferSQLType(values []string) string {
	var (
		n       int
		allBool = true
		allInt  = true
		allNum  = true
		allTime = true
		needs64 bool
		maxLen  int
	)
	for _, raw := range values {
		if coerce.IsNull(raw) {
			continue
		}
		v := strings.TrimSpace(raw)
		n++
		if len(v) > maxLen {
			maxLen = len(v)
		}

		if _, ok := coerce.ParseBool(v); !ok || !isStrictBoolToken(v) {
			allBool = false
		}
		plain := strings.ReplaceAll(v, ",", "")
		if i, err := strconv.ParseInt(plain, 10, 64); err != nil {
			allInt = false
		} else if i >= math.MaxInt32 || i < math.MinInt32 {
			needs64 = true
		}
		if _, err := strconv.ParseFloat(plain, 64); err != nil {
			allNum = false
		}
		if _, ok := coerce.ParseTimestamp(v); !ok {
			allTime = false
		}
	}
	if n == 0 {
		return "TEXT"
	}

	switch {
	case allBool:
		return "BOOLEAN"
	case allInt && needs64:
		return "BIGINT"
	case allInt:
		return "INTEGER"
	case allNum:
		return "NUMERIC"
	case allTime:
		return "TIMESTAMP"
	}

	if size := int(float64(maxLen)*1.2) + 10; size <= 255 {
		if size < 50 {
			size = 50
		}
		return fmt.Sprintf("VARCHAR(%d)", size)
	}
	return "TEXT"
}

// isStrictBoolToken excludes 1/0 from boolean inference. They parse as
// booleans in mapped columns, but a column of bare digits is a count, not a
// flag.
func isStrictBoolToken(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "yes", "no", "y", "n":
		return true
	}
	return false
}
