package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/coordex/pkg/models"
)

const mergeEventColumns = `id, repo_path, branch_name, source_commit, target_branch,
	target_commit, merged_at, detected_at, notification_sent`

func scanMergeEvent(row interface{ Scan(...any) error }) (*models.MergeEvent, error) {
	var e models.MergeEvent
	var mergedAt, detectedAt string
	var notificationSent int
	if err := row.Scan(&e.ID, &e.RepoPath, &e.BranchName, &e.SourceCommit, &e.TargetBranch,
		&e.TargetCommit, &mergedAt, &detectedAt, &notificationSent); err != nil {
		return nil, err
	}
	e.NotificationSent = notificationSent != 0
	var err error
	if e.MergedAt, err = parseTime(mergedAt); err != nil {
		return nil, err
	}
	if e.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindMergeEvent looks up an existing event for (repo, branch, target, source_commit).
func FindMergeEvent(ctx context.Context, tx *sql.Tx, repoPath, branch, target, sourceCommit string) (*models.MergeEvent, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+mergeEventColumns+` FROM merge_events
		WHERE repo_path = ? AND branch_name = ? AND target_branch = ? AND source_commit = ?`,
		repoPath, branch, target, sourceCommit)
	e, err := scanMergeEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find merge event: %w", err)
	}
	return e, nil
}

// InsertMergeEvent records a newly observed merge.
func InsertMergeEvent(ctx context.Context, tx *sql.Tx, e *models.MergeEvent) (*models.MergeEvent, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.DetectedAt = now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO merge_events (id, repo_path, branch_name, source_commit, target_branch,
			target_commit, merged_at, detected_at, notification_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		e.ID, e.RepoPath, e.BranchName, e.SourceCommit, e.TargetBranch, e.TargetCommit,
		formatTime(e.MergedAt), formatTime(e.DetectedAt))
	if err != nil {
		return nil, fmt.Errorf("insert merge event: %w", err)
	}
	return e, nil
}

// MarkMergeEventNotified flips notification_sent once every subscriber has been signalled.
func MarkMergeEventNotified(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE merge_events SET notification_sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark merge event notified: %w", err)
	}
	return nil
}

// ListUnnotifiedMergeEvents returns merge events not yet fully dispatched.
func ListUnnotifiedMergeEvents(ctx context.Context, db *DB, repoPath string) ([]*models.MergeEvent, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT `+mergeEventColumns+` FROM merge_events WHERE repo_path = ? AND notification_sent = 0`, repoPath)
	if err != nil {
		return nil, fmt.Errorf("list unnotified merge events: %w", err)
	}
	defer rows.Close()

	var out []*models.MergeEvent
	for rows.Next() {
		e, err := scanMergeEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const subscriptionColumns = `id, session_id, repo_path, branch_name, target_branch,
	created_at, notified_at, is_active`

func scanSubscription(row interface{ Scan(...any) error }) (*models.Subscription, error) {
	var s models.Subscription
	var createdAt string
	var notifiedAt sql.NullString
	var isActive int
	if err := row.Scan(&s.ID, &s.SessionID, &s.RepoPath, &s.BranchName, &s.TargetBranch,
		&createdAt, &notifiedAt, &isActive); err != nil {
		return nil, err
	}
	s.IsActive = isActive != 0
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.NotifiedAt, err = parseNullableTime(notifiedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSubscription registers a session's interest in a branch merging into target.
func InsertSubscription(ctx context.Context, tx *sql.Tx, s *models.Subscription) (*models.Subscription, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = now()
	s.IsActive = true
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, session_id, repo_path, branch_name, target_branch, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		s.ID, s.SessionID, s.RepoPath, s.BranchName, s.TargetBranch, formatTime(s.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return s, nil
}

// ListActiveSubscriptions returns active subscriptions for a repo.
func ListActiveSubscriptions(ctx context.Context, tx *sql.Tx, repoPath string) ([]*models.Subscription, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE repo_path = ? AND is_active = 1`, repoPath)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NotifySubscriptionsByBranch marks matching subscriptions notified and inactive.
func NotifySubscriptionsByBranch(ctx context.Context, tx *sql.Tx, repoPath, branch, target string) (int, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET notified_at = ?, is_active = 0
		WHERE repo_path = ? AND branch_name = ? AND target_branch = ? AND is_active = 1`,
		formatTime(now()), repoPath, branch, target)
	if err != nil {
		return 0, fmt.Errorf("notify subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListReposWithActiveSubscriptions returns the distinct repos that have at
// least one active subscription, the merge daemon's per-tick work list.
func ListReposWithActiveSubscriptions(ctx context.Context, db *DB) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT DISTINCT repo_path FROM subscriptions WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list subscribed repos: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
