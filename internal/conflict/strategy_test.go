package conflict

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/coordex/pkg/models"
)

func TestDefaultChainOrder(t *testing.T) {
	chain := DefaultChain()
	if len(chain) != 4 {
		t.Fatalf("expected 4 strategies, got %d", len(chain))
	}
	wantNames := []string{"TrivialMerge", "StructuralMerge", "ConcurrentEdit", "Fallback"}
	for i, want := range wantNames {
		if got := chain[i].Name(); got != want {
			t.Errorf("chain[%d].Name() = %q, want %q", i, got, want)
		}
	}
}

func TestTrivialMergeStrategyHandlesOnlyTrivial(t *testing.T) {
	s := TrivialMergeStrategy{}
	if !s.CanHandle(&Conflict{Type: models.ConflictTrivial}) {
		t.Error("expected TrivialMergeStrategy to handle TRIVIAL")
	}
	if s.CanHandle(&Conflict{Type: models.ConflictStructural}) {
		t.Error("expected TrivialMergeStrategy to reject STRUCTURAL")
	}
}

func TestTrivialMergeStrategyResolvesToOurs(t *testing.T) {
	s := TrivialMergeStrategy{}
	c := &Conflict{Region: MarkerRegion{Ours: "foo()"}}
	res, err := s.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Content != "foo()" {
		t.Errorf("Content = %q, want %q", res.Content, "foo()")
	}
	if res.StrategyUsed != "TrivialMerge" {
		t.Errorf("StrategyUsed = %q, want TrivialMerge", res.StrategyUsed)
	}
	if risks := s.IdentifyRisks(c); risks != nil {
		t.Errorf("IdentifyRisks() = %v, want nil", risks)
	}
}

func TestStructuralMergeStrategyUnionsDisjointAdditions(t *testing.T) {
	s := StructuralMergeStrategy{}
	c := &Conflict{Region: MarkerRegion{Ours: "func a() {}", Theirs: "func b() {}"}}
	res, err := s.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := "func a() {}\nfunc b() {}"
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
	if len(s.IdentifyRisks(c)) == 0 {
		t.Error("expected StructuralMergeStrategy to surface a duplication risk")
	}
}

func TestStructuralMergeStrategySkipsUnionWhenTheirsMatchesOurs(t *testing.T) {
	s := StructuralMergeStrategy{}
	c := &Conflict{Region: MarkerRegion{Ours: "func a() {}", Theirs: "func a() {}"}}
	res, err := s.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Content != "func a() {}" {
		t.Errorf("Content = %q, expected no duplication when theirs equals ours", res.Content)
	}
}

func TestConcurrentEditStrategyHandlesSemanticAndConcurrentEdit(t *testing.T) {
	s := ConcurrentEditStrategy{}
	if !s.CanHandle(&Conflict{Type: models.ConflictSemantic}) {
		t.Error("expected ConcurrentEditStrategy to handle SEMANTIC")
	}
	if !s.CanHandle(&Conflict{Type: models.ConflictConcurrentEdit}) {
		t.Error("expected ConcurrentEditStrategy to handle CONCURRENT_EDIT")
	}
	if s.CanHandle(&Conflict{Type: models.ConflictTrivial}) {
		t.Error("expected ConcurrentEditStrategy to reject TRIVIAL")
	}
}

func TestConcurrentEditStrategyAnnotatesBothSides(t *testing.T) {
	s := ConcurrentEditStrategy{}
	c := &Conflict{Region: MarkerRegion{Ours: "return 1", Theirs: "return 2"}}
	res, err := s.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for _, want := range []string{"return 1", "return 2", "CONFLICT"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("Content = %q, missing %q", res.Content, want)
		}
	}
	if len(res.Risks) == 0 {
		t.Error("expected ConcurrentEditStrategy to set a risk on the resolution itself")
	}
}

func TestFallbackStrategyAlwaysHandles(t *testing.T) {
	s := FallbackStrategy{}
	for _, typ := range []models.ConflictType{
		models.ConflictTrivial, models.ConflictStructural,
		models.ConflictSemantic, models.ConflictConcurrentEdit, models.ConflictUnknown,
	} {
		if !s.CanHandle(&Conflict{Type: typ}) {
			t.Errorf("expected FallbackStrategy to handle %v", typ)
		}
	}
}

func TestFallbackStrategyTakesOursAndFlagsDiscard(t *testing.T) {
	s := FallbackStrategy{}
	c := &Conflict{Region: MarkerRegion{Ours: "foo()", Theirs: "bar()"}}
	res, err := s.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Content != "foo()" {
		t.Errorf("Content = %q, want ours verbatim", res.Content)
	}
	if len(res.Risks) == 0 {
		t.Error("expected Fallback to flag the discarded side as a risk")
	}
}

func TestRunChainReturnsFirstApplicableAndAllCandidates(t *testing.T) {
	c := &Conflict{Type: models.ConflictStructural, Region: MarkerRegion{Ours: "a", Theirs: "b"}}
	first, candidates, err := RunChain(DefaultChain(), c)
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if first.StrategyUsed != "StructuralMerge" {
		t.Errorf("first.StrategyUsed = %q, want StructuralMerge (first handler in chain order)", first.StrategyUsed)
	}
	// StructuralMerge and Fallback both CanHandle a STRUCTURAL conflict (Fallback handles everything).
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates (StructuralMerge, Fallback), got %d", len(candidates))
	}
	if candidates[1].StrategyUsed != "Fallback" {
		t.Errorf("candidates[1].StrategyUsed = %q, want Fallback", candidates[1].StrategyUsed)
	}
}

func TestRunChainNeverErrorsGivenFallback(t *testing.T) {
	c := &Conflict{Type: models.ConflictUnknown, Region: MarkerRegion{Ours: "x", Theirs: "y"}}
	first, _, err := RunChain(DefaultChain(), c)
	if err != nil {
		t.Fatalf("RunChain() error = %v, expected Fallback to always make the chain succeed", err)
	}
	if first.StrategyUsed != "Fallback" {
		t.Errorf("first.StrategyUsed = %q, want Fallback for an UNKNOWN conflict", first.StrategyUsed)
	}
}

func TestRunChainEmptyChainErrors(t *testing.T) {
	c := &Conflict{FilePath: "a.go", Type: models.ConflictTrivial}
	_, _, err := RunChain(nil, c)
	if err == nil {
		t.Error("expected RunChain with no strategies to error")
	}
}
