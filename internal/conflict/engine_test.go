package conflict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
	"github.com/ShayCichocki/coordex/internal/git"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

// errKind extracts a *coordexerr.Error's Kind, or "" if err isn't one.
func errKind(err error) coordexerr.Kind {
	var e *coordexerr.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// fakeEngineRunner is a minimal git.Runner double covering just the surface
// Engine touches: merge-base, rev-parse, merge-tree simulation and file show.
type fakeEngineRunner struct {
	mergeBase string
	revParse  map[string]string
	tree      string
	files     map[string]string // "ref:path" -> content
}

func (f *fakeEngineRunner) MergeBase(a, b string) (string, error) { return f.mergeBase, nil }
func (f *fakeEngineRunner) Run(args ...string) (string, error) {
	if len(args) == 2 && args[0] == "rev-parse" {
		if sha, ok := f.revParse[args[1]]; ok {
			return sha, nil
		}
	}
	return "", fmt.Errorf("unsupported args %v", args)
}
func (f *fakeEngineRunner) MergeTree(base, ours, theirs string) (string, error) { return f.tree, nil }
func (f *fakeEngineRunner) ShowFile(ref, path string) (string, error) {
	return f.files[ref+":"+path], nil
}

func (f *fakeEngineRunner) FetchAll() error                                       { return nil }
func (f *fakeEngineRunner) IsAncestor(commit, ref string) (bool, error)           { return false, nil }
func (f *fakeEngineRunner) CurrentBranch() (string, error)                       { return "main", nil }
func (f *fakeEngineRunner) CreateBranch(name string) error                      { return nil }
func (f *fakeEngineRunner) CreateAndCheckoutBranch(name string) error           { return nil }
func (f *fakeEngineRunner) CheckoutBranch(name string) error                    { return nil }
func (f *fakeEngineRunner) BranchExists(name string) (bool, error)              { return true, nil }
func (f *fakeEngineRunner) DeleteBranch(name string) error                      { return nil }
func (f *fakeEngineRunner) Status() (string, error)                             { return "", nil }
func (f *fakeEngineRunner) HasChanges() (bool, error)                           { return false, nil }
func (f *fakeEngineRunner) Diff(base string) (string, error)                    { return "", nil }
func (f *fakeEngineRunner) DiffBetween(ref1, ref2 string) (string, error)       { return "", nil }
func (f *fakeEngineRunner) ChangedFiles(base string) ([]string, error)          { return nil, nil }
func (f *fakeEngineRunner) ChangedFilesBetween(a, b string) ([]string, error)   { return nil, nil }
func (f *fakeEngineRunner) ChangedFilesRelative(branch, relativeTo string) ([]string, error) {
	return nil, nil
}
func (f *fakeEngineRunner) ConflictedFiles() ([]string, error)                { return nil, nil }
func (f *fakeEngineRunner) Add(paths ...string) error                        { return nil }
func (f *fakeEngineRunner) Commit(message string) error                      { return nil }
func (f *fakeEngineRunner) Reset(ref string) error                           { return nil }
func (f *fakeEngineRunner) CheckoutPath(path string) error                   { return nil }
func (f *fakeEngineRunner) Merge(branch string) error                        { return nil }
func (f *fakeEngineRunner) MergeNoFF(branch string) error                    { return nil }
func (f *fakeEngineRunner) MergeNoFFMessage(branch, message string) error    { return nil }
func (f *fakeEngineRunner) MergeAbort() error                                { return nil }
func (f *fakeEngineRunner) HasConflicts() (bool, error)                      { return false, nil }
func (f *fakeEngineRunner) Rebase(base string) error                         { return nil }
func (f *fakeEngineRunner) RebaseAbort() error                               { return nil }
func (f *fakeEngineRunner) WorktreeAdd(path, branch string) error            { return nil }
func (f *fakeEngineRunner) WorktreeAddNewBranch(path, branch string) error   { return nil }
func (f *fakeEngineRunner) WorktreeRemove(path string) error                 { return nil }
func (f *fakeEngineRunner) WorktreeRemoveOptionalForce(path string, force bool) error {
	return nil
}
func (f *fakeEngineRunner) WorktreeUnlock(path string) error       { return nil }
func (f *fakeEngineRunner) WorktreeList() ([]string, error)        { return nil, nil }
func (f *fakeEngineRunner) WorktreeListPorcelain() (string, error) { return "", nil }
func (f *fakeEngineRunner) WorktreePrune() error                   { return nil }
func (f *fakeEngineRunner) WorktreePruneExpireNow() error          { return nil }
func (f *fakeEngineRunner) PullFFOnly() error                      { return nil }
func (f *fakeEngineRunner) CheckoutOurs(path string) error         { return nil }
func (f *fakeEngineRunner) CheckoutTheirs(path string) error       { return nil }

var _ git.Runner = (*fakeEngineRunner)(nil)

func newTestEngine(t *testing.T, runner git.Runner) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	e := New(db, func(string) git.Runner { return runner }, nil, nil)
	return e, db
}

func TestDetectConflictsRejectsMissingFields(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.DetectConflicts(context.Background(), DetectRequest{RepoPath: "/repo"})
	if err == nil {
		t.Fatal("expected an error for a missing branch")
	}
	if errKind(err) != coordexerr.KindValidation {
		t.Errorf("error kind = %v, want validation", errKind(err))
	}
}

func TestDetectConflictsParsesMergeTreeRegions(t *testing.T) {
	runner := &fakeEngineRunner{
		mergeBase: "base-sha",
		revParse:  map[string]string{"feature": "feature-sha", "main": "main-sha"},
		tree: "our    100644 1 path/to/file.go\n" +
			"<<<<<<< ours\nfoo()\n=======\nbar()\n>>>>>>> theirs\n",
	}
	e, _ := newTestEngine(t, runner)

	report, err := e.DetectConflicts(context.Background(), DetectRequest{
		RepoPath: "/repo", CurrentBranch: "feature", TargetBranch: "main",
	})
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if report.BaseCommit != "base-sha" || report.SourceCommit != "feature-sha" || report.TargetCommit != "main-sha" {
		t.Errorf("unexpected commit metadata: %+v", report)
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(report.Conflicts))
	}
	c := report.Conflicts[0]
	if c.FilePath != "path/to/file.go" {
		t.Errorf("FilePath = %q, want path/to/file.go", c.FilePath)
	}
	// AnalyzeSemantics defaults to false, so classification falls back to the
	// trivial/concurrent-edit path without touching the AST ports.
	if c.Type != models.ConflictConcurrentEdit {
		t.Errorf("Type = %v, want CONCURRENT_EDIT without semantic analysis", c.Type)
	}
}

func TestDetectConflictsNoConflictsIsEmptyReport(t *testing.T) {
	runner := &fakeEngineRunner{
		mergeBase: "base-sha",
		revParse:  map[string]string{"feature": "feature-sha", "main": "main-sha"},
		tree:      "clean merge, no markers\n",
	}
	e, _ := newTestEngine(t, runner)

	report, err := e.DetectConflicts(context.Background(), DetectRequest{
		RepoPath: "/repo", CurrentBranch: "feature", TargetBranch: "main",
	})
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(report.Conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(report.Conflicts))
	}
}

func TestGenerateSuggestionsPersistsRankedCandidates(t *testing.T) {
	runner := &fakeEngineRunner{}
	e, _ := newTestEngine(t, runner)

	report := &ConflictReport{
		BaseCommit: "base", SourceCommit: "src", TargetCommit: "tgt",
		Conflicts: []*Conflict{
			{
				RepoPath: "/repo", FilePath: "a.go",
				BaseCommit: "base", SourceCommit: "src", TargetCommit: "tgt",
				Region: MarkerRegion{Ours: "foo()", Theirs: "bar()"},
				Type:   models.ConflictConcurrentEdit,
			},
		},
	}

	results, err := e.GenerateSuggestions(context.Background(), report, nil)
	if err != nil {
		t.Fatalf("GenerateSuggestions() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 persisted resolution, got %d", len(results))
	}
	row := results[0]
	if row.FilePath != "a.go" {
		t.Errorf("FilePath = %q, want a.go", row.FilePath)
	}
	if row.ConfidenceScore <= 0 {
		t.Errorf("ConfidenceScore = %v, want > 0", row.ConfidenceScore)
	}
}

func TestApplySuggestionDryRunWritesNothing(t *testing.T) {
	runner := &fakeEngineRunner{}
	e, db := newTestEngine(t, runner)

	dir := t.TempDir()
	report := &ConflictReport{Conflicts: []*Conflict{
		{RepoPath: dir, FilePath: "a.go", Region: MarkerRegion{Ours: "foo()", Theirs: "bar()"}, Type: models.ConflictTrivial},
	}}
	results, err := e.GenerateSuggestions(context.Background(), report, nil)
	if err != nil {
		t.Fatalf("GenerateSuggestions() error = %v", err)
	}

	suggestion := firstSuggestionFor(t, db, results[0].ID)
	res, err := e.ApplySuggestion(context.Background(), ApplyRequest{SuggestionID: suggestion.ID, DryRun: true})
	if err != nil {
		t.Fatalf("ApplySuggestion() error = %v", err)
	}
	if res.Applied {
		t.Error("expected a dry run to not apply anything")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "a.go")); statErr == nil {
		t.Error("expected a dry run to not write any file")
	}
}

func TestApplySuggestionWritesAndMarksApplied(t *testing.T) {
	runner := &fakeEngineRunner{}
	e, db := newTestEngine(t, runner)

	dir := t.TempDir()
	report := &ConflictReport{Conflicts: []*Conflict{
		{RepoPath: dir, FilePath: "a.go", Region: MarkerRegion{Ours: "foo()", Theirs: "foo()"}, Type: models.ConflictTrivial},
	}}
	results, err := e.GenerateSuggestions(context.Background(), report, nil)
	if err != nil {
		t.Fatalf("GenerateSuggestions() error = %v", err)
	}

	suggestion := firstSuggestionFor(t, db, results[0].ID)
	res, err := e.ApplySuggestion(context.Background(), ApplyRequest{SuggestionID: suggestion.ID})
	if err != nil {
		t.Fatalf("ApplySuggestion() error = %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected Applied=true, got reason %q", res.Reason)
	}
	content, readErr := os.ReadFile(filepath.Join(dir, "a.go"))
	if readErr != nil {
		t.Fatalf("expected the resolved content to be written: %v", readErr)
	}
	if string(content) != "foo()" {
		t.Errorf("written content = %q, want foo()", string(content))
	}
}

func TestApplySuggestionUnknownIDIsNotFound(t *testing.T) {
	e, _ := newTestEngine(t, &fakeEngineRunner{})
	_, err := e.ApplySuggestion(context.Background(), ApplyRequest{SuggestionID: "does-not-exist"})
	if errKind(err) != coordexerr.KindNotFound {
		t.Errorf("error kind = %v, want not_found", errKind(err))
	}
}

func TestDetectAndSuggestSkipsPersistenceWhenClean(t *testing.T) {
	runner := &fakeEngineRunner{
		mergeBase: "base-sha",
		revParse:  map[string]string{"feature": "feature-sha", "main": "main-sha"},
		tree:      "clean merge\n",
	}
	e, _ := newTestEngine(t, runner)

	if err := e.DetectAndSuggest(context.Background(), "/repo", "feature", "main"); err != nil {
		t.Fatalf("DetectAndSuggest() error = %v", err)
	}
}

// fakeNarrator is a Narrator double that never touches the network.
type fakeNarrator struct {
	explanation string
	err         error
	calls       int
}

func (n *fakeNarrator) Narrate(ctx context.Context, c *Conflict, resolved string) (string, error) {
	n.calls++
	if n.err != nil {
		return "", n.err
	}
	return n.explanation, nil
}

func TestGenerateSuggestionsNarratesSemanticConflicts(t *testing.T) {
	e, _ := newTestEngine(t, &fakeEngineRunner{})
	narrator := &fakeNarrator{explanation: "theirs' retry logic is dropped"}
	e.WithNarrator(narrator)

	report := &ConflictReport{Conflicts: []*Conflict{
		{RepoPath: "/repo", FilePath: "a.go", Region: MarkerRegion{Ours: "return 1", Theirs: "return 2"}, Type: models.ConflictSemantic},
	}}
	if _, err := e.GenerateSuggestions(context.Background(), report, nil); err != nil {
		t.Fatalf("GenerateSuggestions() error = %v", err)
	}
	if narrator.calls != 1 {
		t.Errorf("expected the narrator to be called once for a SEMANTIC conflict, got %d calls", narrator.calls)
	}
}

func TestGenerateSuggestionsSkipsNarratorForNonSemantic(t *testing.T) {
	e, _ := newTestEngine(t, &fakeEngineRunner{})
	narrator := &fakeNarrator{explanation: "should not be used"}
	e.WithNarrator(narrator)

	report := &ConflictReport{Conflicts: []*Conflict{
		{RepoPath: "/repo", FilePath: "a.go", Region: MarkerRegion{Ours: "func a() {}", Theirs: "func b() {}"}, Type: models.ConflictStructural},
	}}
	if _, err := e.GenerateSuggestions(context.Background(), report, nil); err != nil {
		t.Fatalf("GenerateSuggestions() error = %v", err)
	}
	if narrator.calls != 0 {
		t.Errorf("expected the narrator to be skipped for a non-SEMANTIC conflict, got %d calls", narrator.calls)
	}
}

func firstSuggestionFor(t *testing.T, db *store.DB, resolutionID string) *models.AutoFixSuggestion {
	t.Helper()
	var suggestions []*models.AutoFixSuggestion
	err := db.Transaction(context.Background(), func(tx *sql.Tx) error {
		var err error
		suggestions, err = store.ListSuggestionsForConflict(context.Background(), tx, resolutionID)
		return err
	})
	if err != nil {
		t.Fatalf("ListSuggestionsForConflict() error = %v", err)
	}
	if len(suggestions) == 0 {
		t.Fatalf("expected at least 1 suggestion for resolution %s", resolutionID)
	}
	return suggestions[0]
}
