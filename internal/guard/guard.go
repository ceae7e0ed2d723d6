// Package guard is a coarse lexical pre-filter for submitted source. It is
// not a security boundary: it only rejects obviously forbidden constructs
// before any process is spawned.
package guard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SecurityMessage is reported to the student for every rejection.
const SecurityMessage = "Security violation: file system, network and process control APIs are not allowed"

// ErrRejected is the sentinel wrapped by every guard rejection.
var ErrRejected = errors.New("source rejected by static guard")

// Category groups denylist rules by the capability they block.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategoryNetwork    Category = "network"
	CategoryProcess    Category = "process"
)

// Rule is one denylisted token.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	Category Category `yaml:"category" json:"category"`
	Token    string   `yaml:"token" json:"token"`
}

// Detection records where a rule matched.
type Detection struct {
	Rule     string   `json:"rule"`
	Category Category `json:"category"`
	Token    string   `json:"token"`
	Line     int      `json:"line"`
}

// RejectionError is returned by Check. Its message is always SecurityMessage
// so the matched token is never echoed back to the caller.
type RejectionError struct {
	Detection Detection
}

func (e *RejectionError) Error() string {
	return SecurityMessage
}

func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// Guard checks source text against a denylist.
type Guard struct {
	rules []Rule
}

// New creates a guard. Rules with an empty token are ignored.
func New(rules []Rule) *Guard {
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Token == "" {
			continue
		}
		kept = append(kept, r)
	}
	return &Guard{rules: kept}
}

// DefaultRules is the Java denylist used when configuration supplies none.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "java_io_file", Category: CategoryFilesystem, Token: "java.io.File"},
		{Name: "java_nio_file", Category: CategoryFilesystem, Token: "java.nio.file"},
		{Name: "java_net", Category: CategoryNetwork, Token: "java.net"},
		{Name: "runtime_exec", Category: CategoryProcess, Token: "Runtime.getRuntime"},
		{Name: "process_builder", Category: CategoryProcess, Token: "ProcessBuilder"},
		{Name: "reflection", Category: CategoryProcess, Token: "java.lang.reflect"},
	}
}

// Rules returns a copy of the active rules.
func (g *Guard) Rules() []Rule {
	out := make([]Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Scan reports every rule match, line by line.
func (g *Guard) Scan(code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, r := range g.rules {
			if strings.Contains(line, r.Token) {
				detections = append(detections, Detection{
					Rule:     r.Name,
					Category: r.Category,
					Token:    r.Token,
					Line:     i + 1,
				})
			}
		}
	}

	return detections
}

// Check returns a *RejectionError for the first match, or nil.
func (g *Guard) Check(code string) error {
	if dets := g.Scan(code); len(dets) > 0 {
		d := dets[0]
		log.Warn().
			Str("rule", d.Rule).
			Str("category", string(d.Category)).
			Int("line", d.Line).
			Msg("denylisted token in submitted source")
		return &RejectionError{Detection: d}
	}
	return nil
}

// Validate checks that every rule is usable.
func Validate(rules []Rule) error {
	for i, r := range rules {
		if r.Token == "" {
			return fmt.Errorf("guard rule %d (%s): token is empty", i, r.Name)
		}
		switch r.Category {
		case CategoryFilesystem, CategoryNetwork, CategoryProcess:
		default:
			return fmt.Errorf("guard rule %d (%s): unknown category %q", i, r.Name, r.Category)
		}
	}
	return nil
}
