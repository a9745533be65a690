package conflict

import (
	"strings"
	"sync"

	"github.com/ShayCichocki/coordex/pkg/models"
)

// complexityFactor weights each conflict type by how mechanically safe its
// default resolution tends to be.
func complexityFactor(t models.ConflictType) float64 {
	switch t {
	case models.ConflictTrivial:
		return 1.0
	case models.ConflictStructural:
		return 0.8
	case models.ConflictConcurrentEdit:
		return 0.5
	case models.ConflictSemantic:
		return 0.3
	default:
		return 0.2
	}
}

// SuccessTracker holds a rolling per-strategy success rate, updated as an
// exponential moving average (α=0.1), seeded at 0.5 for any strategy not
// yet observed.
type SuccessTracker struct {
	mu    sync.Mutex
	rates map[string]float64
}

const successEMAAlpha = 0.1
const seedSuccessRate = 0.5

// NewSuccessTracker returns an empty tracker; every strategy starts at 0.5.
func NewSuccessTracker() *SuccessTracker {
	return &SuccessTracker{rates: make(map[string]float64)}
}

// Rate returns the current rolling success rate for a strategy name.
func (t *SuccessTracker) Rate(strategy string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rates[strategy]; ok {
		return r
	}
	return seedSuccessRate
}

// Record folds in one outcome (applied successfully or not) via EMA.
func (t *SuccessTracker) Record(strategy string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.rates[strategy]
	if !ok {
		prev = seedSuccessRate
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	t.rates[strategy] = prev + successEMAAlpha*(outcome-prev)
}

// contentSimilarity returns a normalized-diff-style ratio in [0,1] between
// two strings: the fraction of lines they have in common over the larger
// side's line count.
func contentSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	linesA := strings.Split(a, "\n")
	linesB := strings.Split(b, "\n")
	setB := make(map[string]int, len(linesB))
	for _, l := range linesB {
		setB[l]++
	}
	common := 0
	for _, l := range linesA {
		if setB[l] > 0 {
			common++
			setB[l]--
		}
	}
	denom := len(linesA)
	if len(linesB) > denom {
		denom = len(linesB)
	}
	if denom == 0 {
		return 1.0
	}
	return float64(common) / float64(denom)
}

// isBalanced is the brace/bracket-balance syntax heuristic used when no
// parser is available for the resolved content's language.
func isBalanced(content string) bool {
	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// maxLinesBeforePenalty is the conflict size, in lines, past which the
// score is scaled down linearly.
const maxLinesBeforePenalty = 40

// sizePenalty returns a [0,1] multiplier that decreases linearly once a
// conflict's combined ours+theirs line count exceeds maxLinesBeforePenalty,
// reaching 0.5 at twice that size.
func sizePenalty(region MarkerRegion) float64 {
	lines := strings.Count(region.Ours, "\n") + strings.Count(region.Theirs, "\n") + 2
	if lines <= maxLinesBeforePenalty {
		return 1.0
	}
	over := float64(lines-maxLinesBeforePenalty) / float64(maxLinesBeforePenalty)
	penalty := 1.0 - 0.5*over
	if penalty < 0.5 {
		penalty = 0.5
	}
	return penalty
}

// Score computes the final confidence in [0,1] for resolution res applied
// to conflict c, combining complexity, content similarity, AST validity,
// rolling strategy success rate, and a size penalty.
func Score(c *Conflict, res *Resolution, tracker *SuccessTracker) float64 {
	complexity := complexityFactor(c.Type)
	similarity := contentSimilarity(c.Region.Ours, res.Content)

	validity := 0.5
	if isBalanced(res.Content) {
		validity = 1.0
	}

	successRate := seedSuccessRate
	if tracker != nil {
		successRate = tracker.Rate(res.StrategyUsed)
	}

	score := 0.35*complexity + 0.2*similarity + 0.2*validity + 0.25*successRate
	score *= sizePenalty(c.Region)

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
