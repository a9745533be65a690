package conflict

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/coordex/internal/conflict/astport"
	"github.com/ShayCichocki/coordex/internal/coordexerr"
	"github.com/ShayCichocki/coordex/internal/git"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

// MaxSuggestionsPerConflict bounds how many ranked candidates GenerateSuggestions persists.
const MaxSuggestionsPerConflict = 3

// RunnerFactory builds a git.Runner rooted at repoPath.
type RunnerFactory func(repoPath string) git.Runner

// Engine is the Conflict Engine: detects conflicts via non-destructive
// merge-tree simulation, classifies them, runs the strategy chain to
// generate ranked suggestions, and applies a chosen suggestion with
// backup/verify/rollback.
type Engine struct {
	db       *store.DB
	runnerOf RunnerFactory
	langOf   func(filePath string) string
	ports    *astport.Registry
	chain    []Strategy
	tracker  *SuccessTracker
	narrator Narrator
	log      *slog.Logger
}

// WithNarrator attaches an optional semantic-risk narrator; nil disables it.
func (e *Engine) WithNarrator(n Narrator) *Engine {
	e.narrator = n
	return e
}

// New builds an Engine. ports may be nil to use the default registry
// (heuristic fallback plus the Go-specific port).
func New(db *store.DB, runnerOf RunnerFactory, ports *astport.Registry, log *slog.Logger) *Engine {
	if ports == nil {
		ports = astport.NewRegistry(map[string]astport.Port{
			"go": astport.NewGoPort(),
		})
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		db:       db,
		runnerOf: runnerOf,
		langOf:   languageOf,
		ports:    ports,
		chain:    DefaultChain(),
		tracker:  NewSuccessTracker(),
		log:      log,
	}
}

// languageOf maps a file extension to the astport language key used for
// per-language registry lookup.
func languageOf(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	default:
		return ""
	}
}

// DetectConflicts simulates a merge of req.TargetBranch into req.CurrentBranch
// via `git merge-tree`, without touching the working tree, and classifies
// every resulting marker region.
func (e *Engine) DetectConflicts(ctx context.Context, req DetectRequest) (*ConflictReport, error) {
	if req.RepoPath == "" || req.CurrentBranch == "" || req.TargetBranch == "" {
		return nil, coordexerr.Validation("repoPath, currentBranch and targetBranch are required")
	}

	runner := e.runnerOf(req.RepoPath)

	base, err := runner.MergeBase(req.CurrentBranch, req.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("merge-base %s %s: %w", req.CurrentBranch, req.TargetBranch, err)
	}
	sourceCommit, err := runner.Run("rev-parse", req.CurrentBranch)
	if err != nil {
		return nil, fmt.Errorf("rev-parse %s: %w", req.CurrentBranch, err)
	}
	targetCommit, err := runner.Run("rev-parse", req.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("rev-parse %s: %w", req.TargetBranch, err)
	}
	sourceCommit = strings.TrimSpace(sourceCommit)
	targetCommit = strings.TrimSpace(targetCommit)

	raw, err := runner.MergeTree(base, req.CurrentBranch, req.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("merge-tree simulation: %w", err)
	}

	regions := ParseMergeTreeOutput(raw)
	report := &ConflictReport{BaseCommit: base, SourceCommit: sourceCommit, TargetCommit: targetCommit}

	for _, region := range regions {
		conflictType := models.ConflictUnknown
		if req.AnalyzeSemantics {
			var port astport.Port = e.ports
			lang := e.langOf(region.FilePath)
			baseContent, _ := runner.ShowFile(base, region.FilePath)
			oursContent, _ := runner.ShowFile(req.CurrentBranch, region.FilePath)
			theirsContent, _ := runner.ShowFile(req.TargetBranch, region.FilePath)
			conflictType = Classify(region, lang, port, []byte(baseContent), []byte(oursContent), []byte(theirsContent))
		} else {
			conflictType = Classify(region, "", nil, nil, nil, nil)
		}

		c := &Conflict{
			RepoPath:     req.RepoPath,
			FilePath:     region.FilePath,
			BaseCommit:   base,
			SourceCommit: sourceCommit,
			TargetCommit: targetCommit,
			Region:       region,
			Type:         conflictType,
			Severity:     Severity(conflictType, len(regions)),
		}
		report.Conflicts = append(report.Conflicts, c)
	}

	return report, nil
}

// GenerateSuggestions persists each conflict plus its ranked candidate
// resolutions (highest confidence first, truncated to
// MaxSuggestionsPerConflict), and returns the persisted resolution rows.
func (e *Engine) GenerateSuggestions(ctx context.Context, report *ConflictReport, sessionID *string) ([]*models.ConflictResolution, error) {
	var results []*models.ConflictResolution

	for _, c := range report.Conflicts {
		_, candidates, runErr := RunChain(e.chain, c)
		if runErr != nil {
			e.log.Warn("strategy chain failed to produce a resolution", "file", c.FilePath, "error", runErr)
			continue
		}

		scored := make([]*Resolution, len(candidates))
		copy(scored, candidates)
		sort.SliceStable(scored, func(i, j int) bool {
			return Score(c, scored[i], e.tracker) > Score(c, scored[j], e.tracker)
		})
		if len(scored) > MaxSuggestionsPerConflict {
			scored = scored[:MaxSuggestionsPerConflict]
		}

		var resolutionRow *models.ConflictResolution
		txErr := e.db.Transaction(ctx, func(tx *sql.Tx) error {
			row := &models.ConflictResolution{
				SessionID:          sessionID,
				RepoPath:           c.RepoPath,
				FilePath:           c.FilePath,
				ConflictType:       c.Type,
				BaseCommit:         c.BaseCommit,
				SourceCommit:       c.SourceCommit,
				TargetCommit:       c.TargetCommit,
				ResolutionStrategy: models.ResolutionAutoFix,
				ConfidenceScore:    Score(c, scored[0], e.tracker),
				ConflictMarkers:    formatMarkers(c.Region),
				ResolvedContent:    scored[0].Content,
			}
			inserted, err := store.InsertConflictResolution(ctx, tx, row)
			if err != nil {
				return err
			}
			resolutionRow = inserted

			if e.narrator != nil && c.Type == models.ConflictSemantic {
				if explanation, nErr := e.narrator.Narrate(ctx, c, scored[0].Content); nErr == nil {
					scored[0].Explanation = explanation
				} else {
					e.log.Warn("semantic narration failed", "file", c.FilePath, "error", nErr)
				}
			}

			for _, res := range scored {
				sug := &models.AutoFixSuggestion{
					ConflictResolutionID: inserted.ID,
					RepoPath:             c.RepoPath,
					FilePath:             c.FilePath,
					ConflictType:         c.Type,
					SuggestedResolution:  res.Content,
					ConfidenceScore:      Score(c, res, e.tracker),
					Explanation:          res.Explanation,
					StrategyUsed:         res.StrategyUsed,
					BaseContent:          c.Region.Base,
					SourceContent:        c.Region.Ours,
					TargetContent:        c.Region.Theirs,
				}
				if _, err := store.InsertSuggestion(ctx, tx, sug); err != nil {
					return err
				}
			}
			return nil
		})
		if txErr != nil {
			return nil, fmt.Errorf("persist conflict %s: %w", c.FilePath, txErr)
		}
		results = append(results, resolutionRow)
	}

	return results, nil
}

// formatMarkers reconstructs a two-way conflict-marker block for storage,
// matching the shape ParseMergeTreeOutput consumes.
func formatMarkers(region MarkerRegion) string {
	var b strings.Builder
	b.WriteString("<<<<<<< ours\n")
	b.WriteString(region.Ours)
	b.WriteString("\n")
	if region.HasBase {
		b.WriteString("||||||| base\n")
		b.WriteString(region.Base)
		b.WriteString("\n")
	}
	b.WriteString("=======\n")
	b.WriteString(region.Theirs)
	b.WriteString("\n>>>>>>> theirs\n")
	return b.String()
}

// ApplySuggestion writes a suggestion's content to disk, with an optional
// backup-before-write and a post-write verification pass; a failed
// verification restores the backup when one was made and reports failure.
// Without a backup, the written content stays on disk.
func (e *Engine) ApplySuggestion(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	var suggestion *models.AutoFixSuggestion
	var resolution *models.ConflictResolution

	err := e.db.Transaction(ctx, func(tx *sql.Tx) error {
		s, err := store.GetSuggestion(ctx, tx, req.SuggestionID)
		if err != nil {
			return err
		}
		if s == nil {
			return coordexerr.NotFound("suggestion %s not found", req.SuggestionID)
		}
		suggestion = s

		r, err := store.GetConflictResolution(ctx, tx, s.ConflictResolutionID)
		if err != nil {
			return err
		}
		resolution = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return nil, coordexerr.NotFound("conflict resolution for suggestion %s not found", req.SuggestionID)
	}

	absPath := filepath.Join(resolution.RepoPath, suggestion.FilePath)

	if req.DryRun {
		return &ApplyResult{Applied: false, Reason: "dry run: no changes written"}, nil
	}

	var backupPath string
	if req.CreateBackup {
		backupPath = absPath + ".bak"
		if existing, readErr := os.ReadFile(absPath); readErr == nil {
			if writeErr := os.WriteFile(backupPath, existing, 0o644); writeErr != nil {
				return nil, fmt.Errorf("write backup %s: %w", backupPath, writeErr)
			}
		}
	}

	if err := os.WriteFile(absPath, []byte(suggestion.SuggestedResolution), 0o644); err != nil {
		return nil, fmt.Errorf("write resolved content to %s: %w", absPath, err)
	}

	if !verifyApplied(suggestion.SuggestedResolution) {
		if backupPath != "" {
			if orig, readErr := os.ReadFile(backupPath); readErr == nil {
				_ = os.WriteFile(absPath, orig, 0o644)
			}
		}
		e.tracker.Record(suggestion.StrategyUsed, false)
		reason := "verification failed: unresolved markers or unbalanced braces"
		if backupPath != "" {
			reason += "; restored from backup"
		}
		return &ApplyResult{Applied: false, BackupPath: backupPath, Reason: reason}, nil
	}

	e.tracker.Record(suggestion.StrategyUsed, true)

	applyErr := e.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := store.MarkSuggestionApplied(ctx, tx, suggestion.ID, true); err != nil {
			return err
		}
		return store.MarkConflictResolved(ctx, tx, resolution.ID, models.ResolutionAutoFix)
	})
	if applyErr != nil {
		return nil, applyErr
	}

	return &ApplyResult{
		Applied:    true,
		BackupPath: backupPath,
		DiffStats:  fmt.Sprintf("%d bytes written to %s", len(suggestion.SuggestedResolution), suggestion.FilePath),
	}, nil
}

// verifyApplied checks resolved content carries no leftover conflict
// markers and, as a syntax smoke test, balanced braces/brackets.
func verifyApplied(content string) bool {
	if strings.Contains(content, "<<<<<<<") || strings.Contains(content, ">>>>>>>") {
		return false
	}
	return isBalanced(content)
}

// DetectAndSuggest satisfies mergedetect.ConflictTrigger: it runs detection
// for sessionBranch against mergedBranch and persists ranked suggestions for
// whatever conflicts surface, without applying any of them.
func (e *Engine) DetectAndSuggest(ctx context.Context, repoPath, sessionBranch, mergedBranch string) error {
	report, err := e.DetectConflicts(ctx, DetectRequest{
		RepoPath:         repoPath,
		CurrentBranch:    sessionBranch,
		TargetBranch:     mergedBranch,
		AnalyzeSemantics: true,
	})
	if err != nil {
		return err
	}
	if len(report.Conflicts) == 0 {
		return nil
	}
	_, err = e.GenerateSuggestions(ctx, report, nil)
	return err
}
