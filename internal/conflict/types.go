// Package conflict is the Conflict Engine: parses merge-tree conflict
// markers, classifies each region, runs a strategy chain to produce
// candidate resolutions, scores confidence, and applies with backup/verify/
// rollback.
package conflict

import "github.com/ShayCichocki/coordex/pkg/models"

// MarkerRegion is one `<<<<<<< / ======= / >>>>>>>` block, optionally with
// a `|||||||` base section (diff3 style).
type MarkerRegion struct {
	FilePath string
	Ours     string
	Base     string // empty when the merge-tree output used two-way markers
	Theirs   string
	HasBase  bool
}

// Conflict is one classified marker region, ready for strategy dispatch.
type Conflict struct {
	RepoPath     string
	FilePath     string
	BaseCommit   string
	SourceCommit string
	TargetCommit string
	Region       MarkerRegion
	Type         models.ConflictType
	Severity     models.Severity
}

// Resolution is a strategy's proposed fix for one Conflict.
type Resolution struct {
	Content      string
	StrategyUsed string
	Explanation  string
	Risks        []string
}

// DetectRequest is the input to DetectConflicts.
type DetectRequest struct {
	RepoPath         string
	CurrentBranch    string
	TargetBranch     string
	AnalyzeSemantics bool
}

// ConflictReport is DetectConflicts' output.
type ConflictReport struct {
	BaseCommit   string
	SourceCommit string
	TargetCommit string
	Conflicts    []*Conflict
}

// ApplyRequest is the input to ApplySuggestion.
type ApplyRequest struct {
	SuggestionID string
	DryRun       bool
	CreateBackup bool
}

// ApplyResult is ApplySuggestion's output.
type ApplyResult struct {
	Applied    bool
	BackupPath string
	DiffStats  string
	Reason     string
}
