package conflict

import (
	"testing"

	"github.com/ShayCichocki/coordex/pkg/models"
)

func TestSuccessTrackerSeedsAtHalf(t *testing.T) {
	tr := NewSuccessTracker()
	if got := tr.Rate("Unseen"); got != seedSuccessRate {
		t.Errorf("Rate() = %v, want seed %v", got, seedSuccessRate)
	}
}

func TestSuccessTrackerRecordMovesTowardOutcome(t *testing.T) {
	tr := NewSuccessTracker()
	tr.Record("TrivialMerge", true)
	got := tr.Rate("TrivialMerge")
	want := seedSuccessRate + successEMAAlpha*(1.0-seedSuccessRate)
	if got != want {
		t.Errorf("Rate() after one success = %v, want %v", got, want)
	}
}

func TestSuccessTrackerRecordFailureMovesDown(t *testing.T) {
	tr := NewSuccessTracker()
	tr.Record("Fallback", false)
	got := tr.Rate("Fallback")
	want := seedSuccessRate + successEMAAlpha*(0.0-seedSuccessRate)
	if got != want {
		t.Errorf("Rate() after one failure = %v, want %v", got, want)
	}
}

func TestContentSimilarityIdentical(t *testing.T) {
	if got := contentSimilarity("a\nb\nc", "a\nb\nc"); got != 1.0 {
		t.Errorf("contentSimilarity() = %v, want 1.0", got)
	}
}

func TestContentSimilarityBothEmpty(t *testing.T) {
	if got := contentSimilarity("", ""); got != 1.0 {
		t.Errorf("contentSimilarity(\"\",\"\") = %v, want 1.0", got)
	}
}

func TestContentSimilarityPartialOverlap(t *testing.T) {
	got := contentSimilarity("a\nb\nc", "a\nb\nd")
	if got <= 0 || got >= 1 {
		t.Errorf("contentSimilarity() = %v, want strictly between 0 and 1", got)
	}
}

func TestIsBalancedValid(t *testing.T) {
	if !isBalanced("func f() { return (1 + [2]) }") {
		t.Error("expected balanced brackets to report true")
	}
}

func TestIsBalancedUnmatchedClose(t *testing.T) {
	if isBalanced("func f() { return 1 ) }") {
		t.Error("expected an unmatched close paren to report false")
	}
}

func TestIsBalancedUnclosedOpen(t *testing.T) {
	if isBalanced("func f() { return 1") {
		t.Error("expected an unclosed brace to report false")
	}
}

func TestSizePenaltySmallRegionIsUnpenalized(t *testing.T) {
	r := MarkerRegion{Ours: "a\nb", Theirs: "c\nd"}
	if got := sizePenalty(r); got != 1.0 {
		t.Errorf("sizePenalty() = %v, want 1.0 for a small region", got)
	}
}

func TestSizePenaltyLargeRegionScalesDown(t *testing.T) {
	big := make([]byte, 0)
	for i := 0; i < 60; i++ {
		big = append(big, 'x', '\n')
	}
	r := MarkerRegion{Ours: string(big), Theirs: ""}
	got := sizePenalty(r)
	if got >= 1.0 {
		t.Errorf("sizePenalty() = %v, expected a penalty below 1.0 for a large region", got)
	}
	if got < 0.5 {
		t.Errorf("sizePenalty() = %v, should never drop below 0.5", got)
	}
}

func TestScoreTrivialResolutionIsHighConfidence(t *testing.T) {
	c := &Conflict{Type: models.ConflictTrivial, Region: MarkerRegion{Ours: "x", Theirs: "x"}}
	res := &Resolution{Content: "x", StrategyUsed: "TrivialMerge"}
	score := Score(c, res, nil)
	if score < 0.8 {
		t.Errorf("Score() = %v, expected a high-confidence score for a trivial resolution", score)
	}
}

func TestScoreUnknownUnbalancedResolutionIsLowConfidence(t *testing.T) {
	c := &Conflict{Type: models.ConflictUnknown, Region: MarkerRegion{Ours: "a", Theirs: "b"}}
	res := &Resolution{Content: "func f() { (", StrategyUsed: "Fallback"}
	score := Score(c, res, nil)
	if score > 0.5 {
		t.Errorf("Score() = %v, expected a low-confidence score for an unknown/unbalanced resolution", score)
	}
}

func TestScoreClampedToUnitRange(t *testing.T) {
	c := &Conflict{Type: models.ConflictTrivial, Region: MarkerRegion{Ours: "x", Theirs: "x"}}
	res := &Resolution{Content: "x", StrategyUsed: "TrivialMerge"}
	tracker := NewSuccessTracker()
	tracker.Record("TrivialMerge", true)
	tracker.Record("TrivialMerge", true)
	tracker.Record("TrivialMerge", true)
	score := Score(c, res, tracker)
	if score < 0 || score > 1 {
		t.Errorf("Score() = %v, must stay within [0,1]", score)
	}
}
