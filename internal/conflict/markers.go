package conflict

import (
	"regexp"
	"strings"
)

const unknownFilePath = "unknown"

// headerLinePattern recognizes the legacy `git merge-tree <base> <ours>
// <theirs>` per-file stage header lines, e.g.:
//
//	  our    100644 1a2b3c... path/to/file.go
//	  their  100644 4d5e6f... path/to/file.go
//
// used to recover the filename a marker region belongs to.
var headerLinePattern = regexp.MustCompile(`^\s*(?:our|their|base)\s+\d+\s+[0-9a-fA-F]+\s+(.+)$`)

// ParseMergeTreeOutput splits raw `git merge-tree` output into marker
// regions, one per conflicted hunk. Supports both two-way (<<<<<<</=======/
// >>>>>>>) and diff3 (adding |||||||) marker styles.
func ParseMergeTreeOutput(raw string) []MarkerRegion {
	lines := strings.Split(raw, "\n")
	var regions []MarkerRegion
	currentFile := unknownFilePath

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := headerLinePattern.FindStringSubmatch(line); m != nil {
			currentFile = strings.TrimSpace(m[1])
			i++
			continue
		}

		if isMarkerStart(line) {
			region, next := parseRegion(lines, i)
			region.FilePath = currentFile
			regions = append(regions, region)
			i = next
			continue
		}

		i++
	}
	return regions
}

func isMarkerStart(line string) bool {
	return strings.HasPrefix(stripDiffPrefix(line), "<<<<<<<")
}

// stripDiffPrefix removes a leading unified-diff context marker (' ', '+',
// '-') if present, since merge-tree's legacy output wraps conflict markers
// in an @@ hunk.
func stripDiffPrefix(line string) string {
	if len(line) > 0 && (line[0] == '+' || line[0] == '-' || line[0] == ' ') {
		return line[1:]
	}
	return line
}

// parseRegion consumes lines[start:] starting at a "<<<<<<<" marker and
// returns the parsed region plus the index just past its ">>>>>>>" line.
func parseRegion(lines []string, start int) (MarkerRegion, int) {
	var ours, base, theirs []string
	section := "ours"
	i := start + 1

	for i < len(lines) {
		if i == len(lines)-1 && lines[i] == "" {
			// Empty element left by the input's trailing newline.
			i++
			continue
		}
		content := stripDiffPrefix(lines[i])
		switch {
		case strings.HasPrefix(content, "|||||||"):
			section = "base"
			i++
			continue
		case strings.HasPrefix(content, "======="):
			section = "theirs"
			i++
			continue
		case strings.HasPrefix(content, ">>>>>>>"):
			i++
			return MarkerRegion{
				Ours:    strings.Join(ours, "\n"),
				Base:    strings.Join(base, "\n"),
				Theirs:  strings.Join(theirs, "\n"),
				HasBase: len(base) > 0,
			}, i
		}

		switch section {
		case "ours":
			ours = append(ours, content)
		case "base":
			base = append(base, content)
		case "theirs":
			theirs = append(theirs, content)
		}
		i++
	}

	// Unterminated region (malformed/truncated output): return what we have.
	return MarkerRegion{
		Ours:    strings.Join(ours, "\n"),
		Base:    strings.Join(base, "\n"),
		Theirs:  strings.Join(theirs, "\n"),
		HasBase: len(base) > 0,
	}, i
}
