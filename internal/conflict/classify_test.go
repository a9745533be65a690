package conflict

import (
	"testing"

	"github.com/ShayCichocki/coordex/internal/conflict/astport"
	"github.com/ShayCichocki/coordex/pkg/models"
)

func TestIsTrivialIgnoresWhitespace(t *testing.T) {
	r := MarkerRegion{Ours: "foo()  \n  bar()", Theirs: "foo()\nbar()   "}
	if !isTrivial(r) {
		t.Error("expected whitespace-only differences to be trivial")
	}
}

func TestIsTrivialFalseOnRealDifference(t *testing.T) {
	r := MarkerRegion{Ours: "foo()", Theirs: "bar()"}
	if isTrivial(r) {
		t.Error("expected a real content difference to not be trivial")
	}
}

func TestClassifyTrivial(t *testing.T) {
	r := MarkerRegion{Ours: "x", Theirs: "x"}
	got := Classify(r, "go", nil, nil, nil, nil)
	if got != models.ConflictTrivial {
		t.Errorf("Classify() = %v, want TRIVIAL", got)
	}
}

func TestClassifyNoPortFallsBackToConcurrentEdit(t *testing.T) {
	r := MarkerRegion{Ours: "foo()", Theirs: "bar()"}
	got := Classify(r, "go", nil, nil, nil, nil)
	if got != models.ConflictConcurrentEdit {
		t.Errorf("Classify() = %v, want CONCURRENT_EDIT", got)
	}
}

func TestClassifyUnavailablePortFallsBack(t *testing.T) {
	r := MarkerRegion{Ours: "foo()", Theirs: "bar()"}
	port := astport.NewRegistry(nil)
	got := Classify(r, "unknown-lang", port, nil, nil, nil)
	if got != models.ConflictConcurrentEdit {
		t.Errorf("Classify() = %v, want CONCURRENT_EDIT", got)
	}
}

func TestClassifyStructuralViaHeuristicPort(t *testing.T) {
	base := []byte("package main\n\nfunc a() {}\n")
	ours := []byte("package main\n\nfunc a() {}\n\nfunc b() {}\n")
	theirs := []byte("package main\n\nfunc a() {}\n\nfunc c() {}\n")

	port := astport.NewRegistry(nil)
	r := MarkerRegion{Ours: "func b() {}", Theirs: "func c() {}"}
	got := Classify(r, "go", port, base, ours, theirs)
	if got != models.ConflictStructural {
		t.Errorf("Classify() = %v, want STRUCTURAL", got)
	}
}

func TestClassifySemanticViaHeuristicPort(t *testing.T) {
	base := []byte("package main\n\nfunc a() {}\n")
	ours := []byte("package main\n\nfunc a() { return 1 }\n")
	theirs := []byte("package main\n\nfunc a() { return 2 }\n")

	port := astport.NewRegistry(nil)
	r := MarkerRegion{Ours: "return 1", Theirs: "return 2"}
	got := Classify(r, "go", port, base, ours, theirs)
	if got != models.ConflictSemantic {
		t.Errorf("Classify() = %v, want SEMANTIC", got)
	}
}

func TestSeverityTrivialIsLow(t *testing.T) {
	if got := Severity(models.ConflictTrivial, 5); got != models.SeverityLow {
		t.Errorf("Severity(TRIVIAL) = %v, want LOW", got)
	}
}

func TestSeverityStructuralScalesWithCount(t *testing.T) {
	if got := Severity(models.ConflictStructural, 2); got != models.SeverityLow {
		t.Errorf("Severity(STRUCTURAL, 2) = %v, want LOW", got)
	}
	if got := Severity(models.ConflictStructural, 3); got != models.SeverityMedium {
		t.Errorf("Severity(STRUCTURAL, 3) = %v, want MEDIUM", got)
	}
}

func TestSeveritySemanticScalesWithCount(t *testing.T) {
	if got := Severity(models.ConflictSemantic, 1); got != models.SeverityMedium {
		t.Errorf("Severity(SEMANTIC, 1) = %v, want MEDIUM", got)
	}
	if got := Severity(models.ConflictConcurrentEdit, 3); got != models.SeverityHigh {
		t.Errorf("Severity(CONCURRENT_EDIT, 3) = %v, want HIGH", got)
	}
}

func TestSeverityUnknownIsHigh(t *testing.T) {
	if got := Severity(models.ConflictUnknown, 1); got != models.SeverityHigh {
		t.Errorf("Severity(UNKNOWN) = %v, want HIGH", got)
	}
}
