package conflict

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/coordex/internal/conflict/astport"
	"github.com/ShayCichocki/coordex/pkg/models"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeWhitespace collapses runs of whitespace, trims each line, and
// drops empty lines, per the TRIVIAL classification rule.
func normalizeWhitespace(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = whitespaceRun.ReplaceAllString(strings.TrimSpace(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// isTrivial reports whether ours and theirs are equal once whitespace is normalized.
func isTrivial(region MarkerRegion) bool {
	return normalizeWhitespace(region.Ours) == normalizeWhitespace(region.Theirs)
}

// Classify determines a region's ConflictType using the AST port when
// language detection and parsing both succeed, falling back to
// CONCURRENT_EDIT/UNKNOWN otherwise.
func Classify(region MarkerRegion, lang string, port astport.Port, baseFile, oursFile, theirsFile []byte) models.ConflictType {
	if isTrivial(region) {
		return models.ConflictTrivial
	}

	if port != nil {
		diff, available := port.Diff(lang, baseFile, oursFile, theirsFile)
		if available {
			if diff.ModifiedSameNode {
				return models.ConflictSemantic
			}
			if diff.AddedOnly {
				return models.ConflictStructural
			}
		}
	}

	if region.Ours != region.Theirs {
		return models.ConflictConcurrentEdit
	}
	return models.ConflictUnknown
}

// Severity computes a region's risk tier per the conflict type and region count.
func Severity(conflictType models.ConflictType, regionCount int) models.Severity {
	switch conflictType {
	case models.ConflictTrivial:
		return models.SeverityLow
	case models.ConflictStructural:
		if regionCount <= 2 {
			return models.SeverityLow
		}
		return models.SeverityMedium
	case models.ConflictSemantic, models.ConflictConcurrentEdit:
		if regionCount <= 2 {
			return models.SeverityMedium
		}
		return models.SeverityHigh
	default:
		return models.SeverityHigh
	}
}
