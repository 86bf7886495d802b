package importer

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Relationship id modes for parent tables written during the same import.
const (
	IDModeAuto       = "auto"         // destination default (serial) assigns
	IDModeUUID       = "uuid"         // generate a v4 per row
	IDModeMaxPlusOne = "max_plus_one" // continue from the current maximum
	IDModePattern    = "pattern"      // printf-style pattern over a counter
)

// IDGenerator hands out explicit keys for the non-auto modes. Construct one
// per table per import run; it is not safe for concurrent use.
type IDGenerator struct {
	Mode    string
	Pattern string // e.g. "BUY-%04d" for IDModePattern
	next    int64
}

// NewIDGenerator seeds the counter modes with the destination's current
// maximum key.
func NewIDGenerator(mode, pattern string, currentMax int64) (*IDGenerator, error) {
	switch mode {
	case IDModeAuto, IDModeUUID, IDModeMaxPlusOne:
	case IDModePattern:
		if !strings.Contains(pattern, "%") {
			return nil, fmt.Errorf("importer: id pattern %q has no counter verb", pattern)
		}
	case "":
		mode = IDModeAuto
	default:
		return nil, fmt.Errorf("importer: unknown id mode %q", mode)
	}
	return &IDGenerator{Mode: mode, Pattern: pattern, next: currentMax + 1}, nil
}

// Explicit reports whether the generator produces values the insert must
// carry, as opposed to letting the destination default assign them.
func (g *IDGenerator) Explicit() bool { return g.Mode != IDModeAuto }

// Next returns the next id value.
func (g *IDGenerator) Next() any {
	switch g.Mode {
	case IDModeUUID:
		return uuid.NewString()
	case IDModeMaxPlusOne:
		v := g.next
		g.next++
		return v
	case IDModePattern:
		v := fmt.Sprintf(g.Pattern, g.next)
		g.next++
		return v
	default:
		return nil
	}
}
