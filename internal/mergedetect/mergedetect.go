// Package mergedetect is the Merge Detector: a polling daemon that notices
// branch merges, records them, notifies subscribers, and triggers the
// Conflict Engine for active sibling sessions.
package mergedetect

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/coordex/internal/git"
	"github.com/ShayCichocki/coordex/internal/notify"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

// DefaultInterval is the default poll cadence.
const DefaultInterval = 30 * time.Second

// ConflictTrigger is the subset of the Conflict Engine the Detector calls
// when a merge lands and a sibling session's branch diverges from it.
type ConflictTrigger interface {
	DetectAndSuggest(ctx context.Context, repoPath, sessionBranch, mergedBranch string) error
}

// RunnerFactory builds a git.Runner rooted at repoPath.
type RunnerFactory func(repoPath string) git.Runner

// Detector polls every repo with at least one active subscription.
type Detector struct {
	db       *store.DB
	runnerOf RunnerFactory
	notifier notify.Port
	conflict ConflictTrigger
	log      *slog.Logger
	Interval time.Duration
}

// New builds a Detector. conflict may be nil to skip step 4 (useful for
// tests exercising only merge-event recording and notification).
func New(db *store.DB, runnerOf RunnerFactory, notifier notify.Port, conflict ConflictTrigger, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	if runnerOf == nil {
		runnerOf = func(repoPath string) git.Runner { return git.NewRunner(repoPath) }
	}
	return &Detector{
		db:       db,
		runnerOf: runnerOf,
		notifier: notifier,
		conflict: conflict,
		log:      log,
		Interval: DefaultInterval,
	}
}

// Run blocks, ticking every d.Interval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.log.Warn("merge detector tick failed", "error", err)
			}
		}
	}
}

// Tick runs one poll pass across every subscribed repo, isolating each
// repo's failures in its own errgroup task.
func (d *Detector) Tick(ctx context.Context) error {
	repos, err := store.ListReposWithActiveSubscriptions(ctx, d.db)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, repoPath := range repos {
		repoPath := repoPath
		g.Go(func() error {
			if err := d.pollRepo(gctx, repoPath); err != nil {
				d.log.Warn("poll repo failed", "repo", repoPath, "error", err)
			}
			return nil // per-repo errors never abort the tick for siblings
		})
	}
	return g.Wait()
}

func (d *Detector) pollRepo(ctx context.Context, repoPath string) error {
	runner := d.runnerOf(repoPath)

	if err := runner.FetchAll(); err != nil {
		d.log.Warn("fetch failed, continuing with local refs", "repo", repoPath, "error", err)
	}

	var subs []*models.Subscription
	err := d.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		subs, err = store.ListActiveSubscriptions(ctx, tx, repoPath)
		return err
	})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := d.checkSubscription(ctx, repoPath, runner, sub); err != nil {
			d.log.Warn("check subscription failed", "repo", repoPath, "branch", sub.BranchName, "error", err)
		}
	}
	return nil
}

func (d *Detector) checkSubscription(ctx context.Context, repoPath string, runner git.Runner, sub *models.Subscription) error {
	sourceCommit, err := revParse(runner, sub.BranchName)
	if err != nil {
		return err
	}
	targetCommit, err := revParse(runner, sub.TargetBranch)
	if err != nil {
		return err
	}

	isAncestor, err := runner.IsAncestor(sourceCommit, targetCommit)
	if err != nil {
		return err
	}
	if !isAncestor {
		return nil
	}

	var event *models.MergeEvent
	var isNew bool
	err = d.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := store.FindMergeEvent(ctx, tx, repoPath, sub.BranchName, sub.TargetBranch, sourceCommit)
		if err != nil {
			return err
		}
		if existing != nil {
			event = existing
			return nil
		}
		event, err = store.InsertMergeEvent(ctx, tx, &models.MergeEvent{
			RepoPath:     repoPath,
			BranchName:   sub.BranchName,
			SourceCommit: sourceCommit,
			TargetBranch: sub.TargetBranch,
			TargetCommit: targetCommit,
			MergedAt:     store.Now(),
		})
		if err != nil {
			return err
		}
		isNew = true
		if _, err := store.NotifySubscriptionsByBranch(ctx, tx, repoPath, sub.BranchName, sub.TargetBranch); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}

	if d.notifier != nil {
		if err := d.notifier.Notify(sub.SessionID, repoPath, sub.BranchName, sub.TargetBranch); err == nil {
			_ = d.db.Transaction(ctx, func(tx *sql.Tx) error {
				return store.MarkMergeEventNotified(ctx, tx, event.ID)
			})
		} else {
			d.log.Warn("notify subscriber failed", "session", sub.SessionID, "error", err)
		}
	}

	if d.conflict != nil {
		if err := d.triggerConflictAnalysis(ctx, repoPath, sub.BranchName); err != nil {
			d.log.Warn("conflict analysis trigger failed", "repo", repoPath, "branch", sub.BranchName, "error", err)
		}
	}
	return nil
}

// triggerConflictAnalysis asks the Conflict Engine to pre-compute
// suggestions for every active sibling session whose branch differs from
// the branch that just merged.
func (d *Detector) triggerConflictAnalysis(ctx context.Context, repoPath, mergedBranch string) error {
	sessions, err := store.ListSessionsByRepo(ctx, d.db, repoPath)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		branch := sessionBranchHint(s)
		if branch == "" || branch == mergedBranch {
			continue
		}
		if err := d.conflict.DetectAndSuggest(ctx, repoPath, branch, mergedBranch); err != nil {
			d.log.Warn("detect and suggest failed", "session", s.ID, "error", err)
		}
	}
	return nil
}

// sessionBranchHint derives a session's working branch from its worktree
// name, since Session itself doesn't persist a branch column: the
// worktree's branch is always named for the worktree per the Worktree Port.
func sessionBranchHint(s *models.Session) string {
	if s.WorktreeName == nil {
		return ""
	}
	return *s.WorktreeName
}

func revParse(runner git.Runner, ref string) (string, error) {
	out, err := runner.Run("rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
