package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/claims"
	"github.com/ShayCichocki/coordex/pkg/models"
)

var (
	claimMode     string
	claimReason   string
	claimTTLHours float64
	claimForce    bool
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Acquire, escalate, release, and list cooperative file claims",
}

func init() {
	claimAcquireCmd.Flags().StringVar(&claimMode, "mode", string(models.ClaimIntent), "claim mode: INTENT, SHARED, or EXCLUSIVE")
	claimAcquireCmd.Flags().StringVar(&claimReason, "reason", "", "human-readable reason for the claim")
	claimAcquireCmd.Flags().Float64Var(&claimTTLHours, "ttl-hours", claims.DefaultTTLHours, "claim time-to-live in hours")
	claimEscalateCmd.Flags().StringVar(&claimMode, "mode", string(models.ClaimExclusive), "target claim mode")
	claimReleaseCmd.Flags().BoolVar(&claimForce, "force", false, "release even if this session is not the owner")

	claimCmd.AddCommand(claimAcquireCmd)
	claimCmd.AddCommand(claimReleaseCmd)
	claimCmd.AddCommand(claimEscalateCmd)
	claimCmd.AddCommand(claimListCmd)
}

var claimAcquireCmd = &cobra.Command{
	Use:   "acquire <file-path>",
	Short: "Acquire a cooperative claim on a file",
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

		repoPath, err := resolveRepoPath()
		if err != nil {
			return fail(err)
		}
		sessionID, err := currentSessionID(ctx, db, repoPath)
		if err != nil {
			return fail(err)
		}

		m := claims.New(db)
		claim, err := m.AcquireClaim(ctx, claims.AcquireRequest{
			SessionID: sessionID,
			RepoPath:  repoPath,
			FilePath:  args[0],
			Mode:      models.ClaimMode(claimMode),
			Reason:    claimReason,
			TTLHours:  claimTTLHours,
		})
		if err != nil {
			return fail(err)
		}
		ok("claim %s acquired on %s (mode=%s expires=%s)", claim.ID, claim.FilePath, claim.ClaimMode, claim.ExpiresAt.Format("2006-01-02T15:04:05Z"))
		return nil
	},
}

var claimReleaseCmd = &cobra.Command{
	Use:   "release <claim-id>",
	Short: "Release a claim",
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

		repoPath, err := resolveRepoPath()
		if err != nil {
			return fail(err)
		}
		sessionID, err := currentSessionID(ctx, db, repoPath)
		if err != nil {
			return fail(err)
		}

		m := claims.New(db)
		released, err := m.ReleaseClaim(ctx, args[0], sessionID, claimForce)
		if err != nil {
			return fail(err)
		}
		if !released {
			warn("claim %s was not released (not found, already released, or not owned by this session)", args[0])
			return nil
		}
		ok("claim %s released", args[0])
		return nil
	},
}

var claimEscalateCmd = &cobra.Command{
	Use:   "escalate <claim-id>",
	Short: "Escalate a claim to a stronger mode",
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

		m := claims.New(db)
		claim, err := m.EscalateClaim(ctx, args[0], models.ClaimMode(claimMode))
		if err != nil {
			return fail(err)
		}
		ok("claim %s escalated to %s", claim.ID, claim.ClaimMode)
		return nil
	},
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List this session's active claims",
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
		sessionID, err := currentSessionID(ctx, db, repoPath)
		if err != nil {
			return fail(err)
		}

		m := claims.New(db)
		active, err := m.ListActive(ctx, sessionID)
		if err != nil {
			return fail(err)
		}
		if len(active) == 0 {
			info("no active claims")
			return nil
		}
		for _, c := range active {
			info("%s %s mode=%s expires=%s", c.ID, c.FilePath, c.ClaimMode, c.ExpiresAt.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}
