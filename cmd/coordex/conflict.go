package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/conflict"
)

var (
	conflictCurrentBranch string
	conflictTargetBranch  string
	conflictAnalyzeSemantics bool
	conflictDryRun        bool
	conflictCreateBackup  bool
)

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Detect, suggest, and apply merge-conflict resolutions",
}

func init() {
	conflictDetectCmd.Flags().StringVar(&conflictCurrentBranch, "branch", "", "this session's branch (required)")
	conflictDetectCmd.Flags().StringVar(&conflictTargetBranch, "target", "", "branch to compare against (required)")
	conflictDetectCmd.Flags().BoolVar(&conflictAnalyzeSemantics, "analyze-semantics", true, "load file content and run AST-based classification")
	conflictDetectCmd.MarkFlagRequired("branch")
	conflictDetectCmd.MarkFlagRequired("target")

	conflictSuggestCmd.Flags().StringVar(&conflictCurrentBranch, "branch", "", "this session's branch (required)")
	conflictSuggestCmd.Flags().StringVar(&conflictTargetBranch, "target", "", "branch to compare against (required)")
	conflictSuggestCmd.MarkFlagRequired("branch")
	conflictSuggestCmd.MarkFlagRequired("target")

	conflictApplyCmd.Flags().BoolVar(&conflictDryRun, "dry-run", false, "show what would change without writing")
	conflictApplyCmd.Flags().BoolVar(&conflictCreateBackup, "backup", true, "back up the file before writing")

	conflictCmd.AddCommand(conflictDetectCmd)
	conflictCmd.AddCommand(conflictSuggestCmd)
	conflictCmd.AddCommand(conflictApplyCmd)
}

var conflictDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect conflicts between --branch and --target",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		db, err := openStore(ctx, log)
		if err != nil {
			return fail(err)
		}
		defer db.Close()

		repoPath, err := resolveRepoPath()
		if err != nil {
			return fail(err)
		}

		engine := newConflictEngine(db, log)
		report, err := engine.DetectConflicts(ctx, conflict.DetectRequest{
			RepoPath:         repoPath,
			CurrentBranch:    conflictCurrentBranch,
			TargetBranch:     conflictTargetBranch,
			AnalyzeSemantics: conflictAnalyzeSemantics,
		})
		if err != nil {
			return fail(err)
		}

		if len(report.Conflicts) == 0 {
			ok("no conflicts between %s and %s", conflictCurrentBranch, conflictTargetBranch)
			return nil
		}
		for _, c := range report.Conflicts {
			info("%s type=%s severity=%s", c.FilePath, c.Type, c.Severity)
		}
		return nil
	},
}

var conflictSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Detect conflicts and generate ranked auto-fix suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		db, err := openStore(ctx, log)
		if err != nil {
			return fail(err)
		}
		defer db.Close()

		repoPath, err := resolveRepoPath()
		if err != nil {
			return fail(err)
		}

		engine := newConflictEngine(db, log)
		report, err := engine.DetectConflicts(ctx, conflict.DetectRequest{
			RepoPath:         repoPath,
			CurrentBranch:    conflictCurrentBranch,
			TargetBranch:     conflictTargetBranch,
			AnalyzeSemantics: true,
		})
		if err != nil {
			return fail(err)
		}
		if len(report.Conflicts) == 0 {
			ok("no conflicts between %s and %s", conflictCurrentBranch, conflictTargetBranch)
			return nil
		}

		var sessionID *string
		if sid, err := currentSessionID(ctx, db, repoPath); err == nil {
			sessionID = &sid
		}

		resolutions, err := engine.GenerateSuggestions(ctx, report, sessionID)
		if err != nil {
			return fail(err)
		}
		for _, r := range resolutions {
			info("%s %s type=%s strategy=%s confidence=%.2f", r.ID, r.FilePath, r.ConflictType, r.ResolutionStrategy, r.ConfidenceScore)
		}
		return nil
	},
}

var conflictApplyCmd = &cobra.Command{
	Use:   "apply <suggestion-id>",
	Short: "Apply a generated suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		db, err := openStore(ctx, log)
		if err != nil {
			return fail(err)
		}
		defer db.Close()

		engine := newConflictEngine(db, log)
		result, err := engine.ApplySuggestion(ctx, conflict.ApplyRequest{
			SuggestionID: args[0],
			DryRun:       conflictDryRun,
			CreateBackup: conflictCreateBackup,
		})
		if err != nil {
			return fail(err)
		}
		if !result.Applied {
			warn("suggestion not applied: %s", result.Reason)
			return nil
		}
		ok("applied (backup=%s)\n%s", result.BackupPath, result.DiffStats)
		return nil
	},
}
