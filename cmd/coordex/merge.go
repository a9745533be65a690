package main

import (
	"database/sql"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/mergedetect"
	"github.com/ShayCichocki/coordex/internal/notify"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

var mergePollOnce bool

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Subscribe to and poll for branch merges",
}

func init() {
	mergePollCmd.Flags().BoolVar(&mergePollOnce, "once", false, "run a single poll tick and exit instead of running until interrupted")
	mergeCmd.AddCommand(mergeSubscribeCmd)
	mergeCmd.AddCommand(mergePollCmd)
}

var mergeSubscribeCmd = &cobra.Command{
	Use:   "subscribe <branch> <target>",
	Short: "Subscribe this session to notifications when <branch> merges into <target>",
	Args:  cobra.ExactArgs(2),
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

		sub := &models.Subscription{
			SessionID:    sessionID,
			RepoPath:     repoPath,
			BranchName:   args[0],
			TargetBranch: args[1],
		}

		txErr := db.Transaction(ctx, func(tx *sql.Tx) error {
			_, err := store.InsertSubscription(ctx, tx, sub)
			return err
		})
		if txErr != nil {
			return fail(txErr)
		}
		ok("subscribed to %s -> %s", args[0], args[1])
		return nil
	},
}

var mergePollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the merge detector (once with --once, or continuously until interrupted)",
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

		conflictEngine := newConflictEngine(db, log)
		detector := mergedetect.New(db, gitRunnerFactory, notify.NewFilePort(), conflictEngine, log)

		if mergePollOnce {
			if err := detector.Tick(ctx); err != nil {
				return fail(err)
			}
			ok("poll tick complete")
			return nil
		}

		pollCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		info("polling for merges every %s (ctrl-c to stop)", detector.Interval)
		if err := detector.Run(pollCtx); err != nil {
			return fail(err)
		}
		return nil
	},
}
