// Package naming turns arbitrary user-supplied labels into safe SQL
// identifiers.
//
// Everything here is deterministic and side-effect free. Normalization is
// idempotent: Normalize(Normalize(x)) == Normalize(x).
package naming

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentifierLen is the common SQL identifier limit (Postgres truncates at
// 63 bytes).
const MaxIdentifierLen = 63

// reserved is a short set of SQL keywords that make poor bare identifiers.
// A colliding label gets a "_col" suffix instead.
var reserved = map[string]struct{}{
	"user":   {},
	"order":  {},
	"group":  {},
	"select": {},
	"where":  {},
	"table":  {},
	"column": {},
	"count":  {},
	"limit":  {},
	"offset": {},
}

var (
	nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
	leadingJunk = regexp.MustCompile(`^[0-9_]+`)

	// uiPrefix matches the markers a mapping UI prepends to labels that
	// should create a new table or column ("__new__:", "newcol:",
	// "__reuse_new__:", ...). They carry no naming information.
	uiPrefix = regexp.MustCompile(`(?i)^(?:__?reuse_new__?:|__?new(?:col|table)?__?:|new(?:col|table)?:)\s*`)
)

// asciiFold strips diacritics and drops anything that does not survive a
// round trip to ASCII. "Café Münster" becomes "Cafe Munster".
var asciiFold = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
)

// Normalize converts a free-text label into a lowercase snake_case
// identifier of at most maxLen bytes.
//
// Rules, in order: ASCII fold, lowercase, collapse non-alphanumeric runs to
// single underscores, trim underscores, strip leading digits and
// underscores, substitute "x" for an empty result, suffix reserved words
// with "_col", truncate to maxLen and trim any trailing underscore left by
// the cut.
func Normalize(label string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxIdentifierLen
	}

	s, _, err := transform.String(asciiFold, label)
	if err != nil {
		// The chain cannot fail on valid UTF-8; fall back to the raw label.
		s = label
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = leadingJunk.ReplaceAllString(s, "")

	if s == "" {
		s = "x"
	}
	if _, ok := reserved[s]; ok {
		s += "_col"
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimRight(s, "_")
}

// TableName builds a role-prefixed destination table name. Roles other than
// "fact" and "ref" are coerced to "fact".
func TableName(role, label string) string {
	role = strings.ToLower(role)
	if role != "fact" && role != "ref" {
		role = "fact"
	}

	topic := Normalize(label, 57)
	base := role + "_" + topic
	if len(base) > MaxIdentifierLen {
		base = base[:MaxIdentifierLen]
	}
	return base
}

// StripUIPrefix removes a leading mapping-UI marker, if any, and trims the
// remainder. The result is NOT normalized.
func StripUIPrefix(v string) string {
	return strings.TrimSpace(uiPrefix.ReplaceAllString(strings.TrimSpace(v), ""))
}

// HasUIPrefix reports whether v carries a mapping-UI marker.
func HasUIPrefix(v string) bool {
	return uiPrefix.MatchString(strings.TrimSpace(v))
}

// ResolveTableName resolves a template- or UI-provided table value into a
// safe identifier: strip UI markers, then normalize to the full 63-byte
// limit.
func ResolveTableName(v string) string {
	return Normalize(StripUIPrefix(v), MaxIdentifierLen)
}

// ResolveColumnName resolves a template- or UI-provided column value into a
// safe identifier.
func ResolveColumnName(v string) string {
	return Normalize(StripUIPrefix(v), MaxIdentifierLen)
}

// EnsureUnique returns base if it is not already taken, otherwise the first
// of base_2, base_3, ... that is free. The chosen name is recorded in taken.
// A base at the byte limit is shortened so the suffix still fits.
func EnsureUnique(taken map[string]struct{}, base string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxIdentifierLen
	}
	if _, ok := taken[base]; !ok {
		taken[base] = struct{}{}
		return base
	}
	for n := 2; ; n++ {
		suffix := "_" + itoa(n)
		cand := base
		if len(cand)+len(suffix) > maxLen {
			cut := maxLen - len(suffix)
			if cut < 0 {
				cut = 0
			}
			cand = strings.TrimRight(cand[:cut], "_")
		}
		cand += suffix
		if _, ok := taken[cand]; !ok {
			taken[cand] = struct{}{}
			return cand
		}
	}
}

// itoa avoids pulling strconv into the hot path for tiny counters.
func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
