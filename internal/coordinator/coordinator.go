// Package coordinator is the top-level façade: register/heartbeat/release/
// status/cleanup, owning the Store and the Liveness Oracle and calling the
// Worktree Port when a session needs an isolated sibling checkout.
package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/coordex/internal/git"
	"github.com/ShayCichocki/coordex/internal/liveness"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/internal/worktree"
	"github.com/ShayCichocki/coordex/pkg/models"
)

// Coordinator is the entry point agents use to join and leave a repo's
// coordination domain.
type Coordinator struct {
	db       *store.DB
	liveness *liveness.Oracle
	worktrees worktree.Provider
	log      *slog.Logger

	// AutoCleanupWorktree controls whether Release calls the worktree
	// port to remove the session's worktree.
	AutoCleanupWorktree bool
}

// New builds a Coordinator. worktrees may be nil if this process never
// needs to allocate sibling worktrees (e.g. a status-only CLI invocation).
func New(db *store.DB, wt worktree.Provider, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		db:                  db,
		liveness:            liveness.New(10 * time.Minute),
		worktrees:           wt,
		log:                 log,
		AutoCleanupWorktree: true,
	}
}

// RegisterResult is the response shape for Register.
type RegisterResult struct {
	SessionID        string
	WorktreePath     string
	WorktreeName     *string
	IsMainRepo       bool
	ParallelSessions int
	IsNew            bool
}

// CanonicalizeRepoPath resolves repoPath to its git toplevel, falling back
// to the input verbatim if git rev-parse fails (e.g. not a git repo yet).
func CanonicalizeRepoPath(repoPath string) string {
	runner := git.NewRunner(repoPath)
	top, err := runner.RevParseToplevel()
	if err != nil || top == "" {
		return repoPath
	}
	return top
}

// Register allocates a session for pid in repoPath: the first liveness-
// counted session in a repo becomes the main-repo occupant; subsequent ones
// get a worktree.
func (c *Coordinator) Register(ctx context.Context, repoPath string, pid int) (*RegisterResult, error) {
	repoPath = CanonicalizeRepoPath(repoPath)

	// Best-effort opportunistic sweep before the registration transaction,
	// so a crashed prior occupant doesn't block a fresh main-repo slot.
	if _, err := c.Cleanup(ctx, repoPath); err != nil {
		c.log.Warn("opportunistic sweep before register failed", "error", err, "repo", repoPath)
	}

	var result RegisterResult
	var worktreeErr error

	err := c.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := store.GetSessionByPID(ctx, tx, repoPath, pid)
		if err != nil {
			return err
		}
		if existing != nil {
			n, err := c.countActive(ctx, tx, repoPath)
			if err != nil {
				return err
			}
			result = RegisterResult{
				SessionID:        existing.ID,
				WorktreePath:     existing.WorktreePath,
				WorktreeName:     existing.WorktreeName,
				IsMainRepo:       existing.IsMainRepo,
				ParallelSessions: n,
				IsNew:            false,
			}
			return nil
		}

		active, err := c.activeSessions(ctx, tx, repoPath)
		if err != nil {
			return err
		}

		s := &models.Session{PID: pid, RepoPath: repoPath}
		if len(active) == 0 {
			s.IsMainRepo = true
			s.WorktreePath = repoPath
			s.WorktreeName = nil
		} else if c.worktrees != nil {
			wt, werr := c.worktrees.Create("", "")
			if werr != nil {
				worktreeErr = werr
				s.IsMainRepo = true
				s.WorktreePath = repoPath
				s.WorktreeName = nil
			} else {
				s.IsMainRepo = false
				s.WorktreePath = wt.Path
				n := wt.Name
				s.WorktreeName = &n
			}
		} else {
			s.IsMainRepo = true
			s.WorktreePath = repoPath
		}

		if _, err := store.InsertSession(ctx, tx, s); err != nil {
			return err
		}

		result = RegisterResult{
			SessionID:        s.ID,
			WorktreePath:     s.WorktreePath,
			WorktreeName:     s.WorktreeName,
			IsMainRepo:       s.IsMainRepo,
			ParallelSessions: len(active) + 1,
			IsNew:            true,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}
	if worktreeErr != nil {
		c.log.Error("worktree allocation failed, session placed in main checkout", "error", worktreeErr, "repo", repoPath)
	}
	return &result, nil
}

// activeSessions returns the rows in repoPath whose process is currently
// alive and not stale, used to decide main-repo-vs-worktree placement.
func (c *Coordinator) activeSessions(ctx context.Context, tx *sql.Tx, repoPath string) ([]*models.Session, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, pid, last_heartbeat FROM sessions WHERE repo_path = ?`, repoPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []*models.Session
	for rows.Next() {
		var id string
		var pid int
		var hbStr string
		if err := rows.Scan(&id, &pid, &hbStr); err != nil {
			return nil, err
		}
		hb, err := time.Parse(time.RFC3339, hbStr)
		if err != nil {
			continue
		}
		if !c.liveness.EligibleForSweep(pid, hb) {
			active = append(active, &models.Session{ID: id, PID: pid, LastHeartbeat: hb})
		}
	}
	return active, rows.Err()
}

func (c *Coordinator) countActive(ctx context.Context, tx *sql.Tx, repoPath string) (int, error) {
	active, err := c.activeSessions(ctx, tx, repoPath)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// Heartbeat updates the last_heartbeat column for the row keyed by pid.
func (c *Coordinator) Heartbeat(ctx context.Context, repoPath string, pid int) (bool, error) {
	repoPath = CanonicalizeRepoPath(repoPath)
	var ok bool
	err := c.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		ok, err = store.HeartbeatSession(ctx, tx, repoPath, pid)
		return err
	})
	return ok, err
}

// ReleaseResult is the response shape for Release.
type ReleaseResult struct {
	Released        bool
	WorktreeRemoved bool
}

// Release tears down the session owned by pid: releases its claims, deletes
// its row, then best-effort removes its worktree outside the transaction.
func (c *Coordinator) Release(ctx context.Context, repoPath string, pid int) (*ReleaseResult, error) {
	repoPath = CanonicalizeRepoPath(repoPath)

	var session *models.Session
	released := false

	err := c.db.Transaction(ctx, func(tx *sql.Tx) error {
		s, err := store.GetSessionByPID(ctx, tx, repoPath, pid)
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		session = s
		if _, err := store.ReleaseAllClaimsForSession(ctx, tx, s.ID); err != nil {
			return err
		}
		if err := store.DeleteSession(ctx, tx, s.ID); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("release session: %w", err)
	}

	result := &ReleaseResult{Released: released}
	if released && session != nil && !session.IsMainRepo && session.WorktreeName != nil && c.AutoCleanupWorktree && c.worktrees != nil {
		if err := c.worktrees.Remove(*session.WorktreeName, true); err != nil {
			c.log.Warn("worktree removal failed on release", "error", err, "worktree", *session.WorktreeName)
		} else {
			result.WorktreeRemoved = true
		}
	}
	return result, nil
}

// SessionStatus annotates a Session with derived liveness/age fields.
type SessionStatus struct {
	*models.Session
	IsAlive         bool
	DurationMinutes float64
}

// Status lists sessions (optionally filtered to one repo) annotated with liveness.
func (c *Coordinator) Status(ctx context.Context, repoPath string) ([]*SessionStatus, error) {
	var repos []string
	if repoPath != "" {
		repos = []string{CanonicalizeRepoPath(repoPath)}
	} else {
		var err error
		repos, err = store.ListAllRepos(ctx, c.db)
		if err != nil {
			return nil, err
		}
	}

	var out []*SessionStatus
	for _, r := range repos {
		sessions, err := store.ListSessionsByRepo(ctx, c.db, r)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			out = append(out, &SessionStatus{
				Session:         s,
				IsAlive:         c.liveness.IsAlive(s.PID),
				DurationMinutes: time.Since(s.CreatedAt).Minutes(),
			})
		}
	}
	return out, nil
}

// CleanupResult is the response shape for Cleanup.
type CleanupResult struct {
	Removed           int
	Sessions          []string
	WorktreesRemoved  int
}

// Cleanup sweeps every session (optionally scoped to one repo) whose
// process is dead or whose heartbeat is stale. Concurrent sweepers are
// serialized by the advisory lock on schema_metadata.last_claim_cleanup; a
// sweeper that cannot acquire it returns a zero-valued result without error.
func (c *Coordinator) Cleanup(ctx context.Context, repoPath string) (*CleanupResult, error) {
	result := &CleanupResult{}

	err := c.db.Transaction(ctx, func(tx *sql.Tx) error {
		got, err := store.AcquireCleanupLock(ctx, tx, time.Minute)
		if err != nil {
			return err
		}
		if !got {
			return nil
		}

		var repos []string
		if repoPath != "" {
			repos = []string{repoPath}
		} else {
			rows, err := tx.QueryContext(ctx, `SELECT DISTINCT repo_path FROM sessions`)
			if err != nil {
				return err
			}
			for rows.Next() {
				var r string
				if err := rows.Scan(&r); err != nil {
					rows.Close()
					return err
				}
				repos = append(repos, r)
			}
			rows.Close()
		}

		var toRemoveWorktrees []string
		for _, r := range repos {
			rows, err := tx.QueryContext(ctx, `SELECT id, pid, last_heartbeat, worktree_name, is_main_repo FROM sessions WHERE repo_path = ?`, r)
			if err != nil {
				return err
			}
			type row struct {
				id, wtName          string
				pid                 int
				hb                  time.Time
				hasWt, isMainRepo   bool
			}
			var pending []row
			for rows.Next() {
				var id string
				var pid int
				var hbStr string
				var wtName sql.NullString
				var isMainRepo int
				if err := rows.Scan(&id, &pid, &hbStr, &wtName, &isMainRepo); err != nil {
					rows.Close()
					return err
				}
				hb, err := time.Parse(time.RFC3339, hbStr)
				if err != nil {
					continue
				}
				pending = append(pending, row{id: id, pid: pid, hb: hb, wtName: wtName.String, hasWt: wtName.Valid, isMainRepo: isMainRepo != 0})
			}
			rows.Close()

			for _, p := range pending {
				if !c.liveness.EligibleForSweep(p.pid, p.hb) {
					continue
				}
				if _, err := store.ReleaseAllClaimsForSession(ctx, tx, p.id); err != nil {
					return err
				}
				if err := store.DeleteSession(ctx, tx, p.id); err != nil {
					return err
				}
				result.Removed++
				result.Sessions = append(result.Sessions, p.id)
				if p.hasWt && !p.isMainRepo {
					toRemoveWorktrees = append(toRemoveWorktrees, p.wtName)
				}
			}
		}

		for _, name := range toRemoveWorktrees {
			if c.worktrees == nil {
				continue
			}
			if err := c.worktrees.Remove(name, true); err != nil {
				c.log.Warn("worktree removal failed during sweep", "error", err, "worktree", name)
				continue
			}
			result.WorktreesRemoved++
		}

		if _, err := store.CleanupStaleClaimsRows(ctx, tx, repoPath); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	return result, nil
}
