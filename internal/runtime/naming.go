package runtime

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// UnitNamer derives the externally visible build target name from source text.
type UnitNamer interface {
	UnitName(source string) string
}

// javaPublicClass matches the first public top-level class declaration.
var javaPublicClass = regexp.MustCompile(`(?m)^\s*public\s+(?:(?:final|abstract|strictfp)\s+)*class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// PatternNamer extracts the unit name with a regular expression whose first
// capture group is the name. When nothing matches, a fresh name is
// synthesized from a random identifier.
type PatternNamer struct {
	pattern *regexp.Regexp
	prefix  string
}

// NewPatternNamer builds a namer from a pattern and the prefix used for
// synthesized names.
func NewPatternNamer(pattern *regexp.Regexp, prefix string) *PatternNamer {
	return &PatternNamer{pattern: pattern, prefix: prefix}
}

// JavaNamer returns the namer for Java public class declarations.
func JavaNamer() *PatternNamer {
	return NewPatternNamer(javaPublicClass, "Main_")
}

func (n *PatternNamer) UnitName(source string) string {
	if m := n.pattern.FindStringSubmatch(source); len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return n.prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}
