package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/coordinator"
	"github.com/ShayCichocki/coordex/internal/tui"
	"github.com/ShayCichocki/coordex/internal/worktree"
)

var sessionStatusWatch bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Register, observe, and release coordinator sessions",
}

func init() {
	sessionStatusCmd.Flags().BoolVar(&sessionStatusWatch, "watch", false, "show a live-refreshing dashboard instead of a one-shot listing")

	sessionCmd.AddCommand(sessionRegisterCmd)
	sessionCmd.AddCommand(sessionHeartbeatCmd)
	sessionCmd.AddCommand(sessionReleaseCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionCleanupCmd)
}

var sessionRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this process as a coordinator session",
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

		wt, err := worktree.NewManager("", repoPath)
		if err != nil {
			return fail(err)
		}

		c := coordinator.New(db, wt, log)
		result, err := c.Register(ctx, repoPath, os.Getpid())
		if err != nil {
			return fail(err)
		}

		worktreeName := "(none)"
		if result.WorktreeName != nil {
			worktreeName = *result.WorktreeName
		}
		ok("registered session %s (main=%v worktree=%s path=%s parallel=%d new=%v)",
			result.SessionID, result.IsMainRepo, worktreeName, result.WorktreePath,
			result.ParallelSessions, result.IsNew)
		return nil
	},
}

var sessionHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Refresh this process's session liveness",
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
		wt, err := worktree.NewManager("", repoPath)
		if err != nil {
			return fail(err)
		}

		c := coordinator.New(db, wt, log)
		beat, err := c.Heartbeat(ctx, repoPath, os.Getpid())
		if err != nil {
			return fail(err)
		}
		if !beat {
			warn("no session found for pid %d in %s", os.Getpid(), repoPath)
			return nil
		}
		ok("heartbeat recorded")
		return nil
	},
}

var sessionReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release this process's session and its claims",
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
		wt, err := worktree.NewManager("", repoPath)
		if err != nil {
			return fail(err)
		}

		c := coordinator.New(db, wt, log)
		result, err := c.Release(ctx, repoPath, os.Getpid())
		if err != nil {
			return fail(err)
		}
		ok("released=%v worktree_removed=%v", result.Released, result.WorktreeRemoved)
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List sessions active in this repo",
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
		wt, err := worktree.NewManager("", repoPath)
		if err != nil {
			return fail(err)
		}

		c := coordinator.New(db, wt, log)

		if sessionStatusWatch {
			return tui.Run(c, repoPath, 2*time.Second)
		}

		statuses, err := c.Status(ctx, repoPath)
		if err != nil {
			return fail(err)
		}

		if len(statuses) == 0 {
			info("no active sessions in %s", repoPath)
			return nil
		}
		for _, s := range statuses {
			info("%s pid=%d main=%v alive=%v age=%.1fm", s.Session.ID, s.Session.PID,
				s.Session.IsMainRepo, s.IsAlive, s.DurationMinutes)
		}
		return nil
	},
}

var sessionCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep stale sessions, claims, and worktrees in this repo",
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
		wt, err := worktree.NewManager("", repoPath)
		if err != nil {
			return fail(err)
		}

		c := coordinator.New(db, wt, log)
		result, err := c.Cleanup(ctx, repoPath)
		if err != nil {
			return fail(err)
		}
		ok("removed=%d sessions=%d worktrees_removed=%d", result.Removed, len(result.Sessions), result.WorktreesRemoved)
		return nil
	},
}
