// Package astport provides a pluggable structural-diff capability the
// Conflict Engine consults to distinguish additions/removals (STRUCTURAL)
// from same-node edits (SEMANTIC).
package astport

import (
	"regexp"
	"strings"
)

// NodeDiff summarizes a structural comparison between two versions of a
// file relative to a common base.
type NodeDiff struct {
	// AddedOnly is true when both sides only add or remove whole
	// top-level spans with no overlap in the spans they touch.
	AddedOnly bool
	// ModifiedSameNode is true when both sides touch the same top-level
	// span (by name or position), indicating a real semantic collision.
	ModifiedSameNode bool
	// Spans lists the top-level declaration/import spans each side touched.
	OursSpans   []string
	TheirsSpans []string
}

// Port diffs base/ours/theirs for a given language, reporting whether a
// diff was possible at all (the bool return).
type Port interface {
	Diff(lang string, base, ours, theirs []byte) (*NodeDiff, bool)
}

// Registry dispatches to a language-specific Port, falling back to the
// heuristic port for any language without a dedicated implementation.
type Registry struct {
	byLang   map[string]Port
	fallback Port
}

// NewRegistry builds a Registry with the given language-specific ports
// layered over the regex-based heuristic fallback.
func NewRegistry(byLang map[string]Port) *Registry {
	return &Registry{byLang: byLang, fallback: NewHeuristicPort()}
}

// Diff dispatches to the language-specific port if one is registered,
// otherwise the heuristic fallback.
func (r *Registry) Diff(lang string, base, ours, theirs []byte) (*NodeDiff, bool) {
	if p, ok := r.byLang[lang]; ok {
		return p.Diff(lang, base, ours, theirs)
	}
	return r.fallback.Diff(lang, base, ours, theirs)
}

// importPattern mirrors the per-language regex table used to recognize
// import/top-level-declaration lines without a real parser.
type importPattern struct {
	lang    string
	pattern *regexp.Regexp
}

var topLevelPatterns = []importPattern{
	{"go", regexp.MustCompile(`^\s*(import\s|package\s|func\s|type\s|const\s|var\s)`)},
	{"typescript", regexp.MustCompile(`^\s*(import\s|export\s|from\s|require\()`)},
	{"javascript", regexp.MustCompile(`^\s*(import\s|export\s|from\s|require\()`)},
	{"python", regexp.MustCompile(`^\s*(import\s|from\s|class\s|def\s)`)},
	{"rust", regexp.MustCompile(`^\s*(use\s|extern\s|fn\s|struct\s|enum\s|impl\s|pub\s)`)},
}

// HeuristicPort is a language-agnostic, text-based AST port: each line
// matching that language's top-level pattern starts one "node" that runs
// forward until its brackets balance, identified by its trimmed text, and it
// diffs the sets of nodes each side added or removed relative to base.
type HeuristicPort struct{}

// NewHeuristicPort returns the default text-pattern AST port.
func NewHeuristicPort() *HeuristicPort {
	return &HeuristicPort{}
}

func patternFor(lang string) *regexp.Regexp {
	for _, p := range topLevelPatterns {
		if p.lang == lang {
			return p.pattern
		}
	}
	return nil
}

// Diff reports whether lang has a registered top-level pattern (the
// heuristic port's notion of "available") and, if so, classifies the
// base/ours/theirs spans.
func (h *HeuristicPort) Diff(lang string, base, ours, theirs []byte) (*NodeDiff, bool) {
	pattern := patternFor(lang)
	if pattern == nil {
		return nil, false
	}

	baseSpans := topLevelSpans(string(base), pattern)
	oursSpans := topLevelSpans(string(ours), pattern)
	theirsSpans := topLevelSpans(string(theirs), pattern)

	oursAdded, oursRemoved := diffSpans(baseSpans, oursSpans)
	theirsAdded, theirsRemoved := diffSpans(baseSpans, theirsSpans)

	overlap := intersect(append(oursAdded, oursRemoved...), append(theirsAdded, theirsRemoved...))

	diff := &NodeDiff{
		OursSpans:   append(oursAdded, oursRemoved...),
		TheirsSpans: append(theirsAdded, theirsRemoved...),
	}
	if len(overlap) > 0 {
		diff.ModifiedSameNode = true
	} else {
		diff.AddedOnly = true
	}
	return diff, true
}

// topLevelSpans extracts the trimmed text of every line matching pattern,
// bracket-balancing forward from a match to capture a whole declaration
// span rather than just its first line.
func topLevelSpans(content string, pattern *regexp.Regexp) []string {
	lines := strings.Split(content, "\n")
	var spans []string
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !pattern.MatchString(line) {
			i++
			continue
		}
		span := []string{strings.TrimSpace(line)}
		depth := strings.Count(line, "{") + strings.Count(line, "(") - strings.Count(line, "}") - strings.Count(line, ")")
		j := i + 1
		for depth > 0 && j < len(lines) {
			span = append(span, strings.TrimSpace(lines[j]))
			depth += strings.Count(lines[j], "{") + strings.Count(lines[j], "(") - strings.Count(lines[j], "}") - strings.Count(lines[j], ")")
			j++
		}
		spans = append(spans, strings.Join(span, "\n"))
		i = j
	}
	return spans
}

func diffSpans(base, other []string) (added, removed []string) {
	baseSet := toSet(base)
	otherSet := toSet(other)
	for _, s := range other {
		if !baseSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range base {
		if !otherSet[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}

func toSet(spans []string) map[string]bool {
	m := make(map[string]bool, len(spans))
	for _, s := range spans {
		m[s] = true
	}
	return m
}

func intersect(a, b []string) []string {
	setA := toSet(a)
	var out []string
	for _, s := range b {
		if setA[s] {
			out = append(out, s)
		}
	}
	return out
}
