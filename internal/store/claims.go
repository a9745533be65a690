package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/coordex/pkg/models"
)

const claimColumns = `id, session_id, repo_path, file_path, claim_mode, claimed_at,
	expires_at, last_heartbeat, escalated_from, metadata, is_active, released_at,
	deleted_at, deleted_reason`

func scanClaim(row interface{ Scan(...any) error }) (*models.FileClaim, error) {
	var c models.FileClaim
	var escalatedFrom, metadata, releasedAt, deletedAt, deletedReason sql.NullString
	var claimedAt, expiresAt, lastHeartbeat string
	var claimMode string
	var isActive int

	if err := row.Scan(
		&c.ID, &c.SessionID, &c.RepoPath, &c.FilePath, &claimMode, &claimedAt,
		&expiresAt, &lastHeartbeat, &escalatedFrom, &metadata, &isActive, &releasedAt,
		&deletedAt, &deletedReason,
	); err != nil {
		return nil, err
	}

	c.ClaimMode = models.ClaimMode(claimMode)
	c.IsActive = isActive != 0
	c.Metadata = metadata.String
	c.DeletedReason = sqlToNullableString(deletedReason)
	if escalatedFrom.Valid {
		m := models.ClaimMode(escalatedFrom.String)
		c.EscalatedFrom = &m
	}

	var err error
	if c.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return nil, err
	}
	if c.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if c.LastHeartbeat, err = parseTime(lastHeartbeat); err != nil {
		return nil, err
	}
	if c.ReleasedAt, err = parseNullableTime(releasedAt); err != nil {
		return nil, err
	}
	if c.DeletedAt, err = parseNullableTime(deletedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ActiveConflictingClaims returns active, non-expired claims on
// (repoPath, filePath) excluding excludeSessionID, that are incompatible
// with requestedMode per the compatibility matrix.
func ActiveConflictingClaims(ctx context.Context, tx *sql.Tx, repoPath, filePath string, excludeSessionID string, requestedMode models.ClaimMode) ([]*models.FileClaim, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM file_claims
		WHERE repo_path = ? AND file_path = ? AND is_active = 1
		  AND session_id != ? AND expires_at > ?`,
		repoPath, filePath, excludeSessionID, formatTime(now()))
	if err != nil {
		return nil, fmt.Errorf("query active claims: %w", err)
	}
	defer rows.Close()

	var conflicting []*models.FileClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		if !requestedMode.CompatibleWith(c.ClaimMode) {
			conflicting = append(conflicting, c)
		}
	}
	return conflicting, rows.Err()
}

// InsertClaim inserts a new active claim row.
func InsertClaim(ctx context.Context, tx *sql.Tx, c *models.FileClaim) (*models.FileClaim, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	n := now()
	c.ClaimedAt = n
	c.LastHeartbeat = n
	c.IsActive = true

	var escalatedFrom sql.NullString
	if c.EscalatedFrom != nil {
		escalatedFrom = sql.NullString{String: string(*c.EscalatedFrom), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO file_claims (
			id, session_id, repo_path, file_path, claim_mode, claimed_at,
			expires_at, last_heartbeat, escalated_from, metadata, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		c.ID, c.SessionID, c.RepoPath, c.FilePath, string(c.ClaimMode),
		formatTime(c.ClaimedAt), formatTime(c.ExpiresAt), formatTime(c.LastHeartbeat),
		escalatedFrom, c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("insert claim: %w", err)
	}
	return c, nil
}

// GetClaim returns a claim by id, or nil if absent.
func GetClaim(ctx context.Context, tx *sql.Tx, id string) (*models.FileClaim, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM file_claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

// ReleaseClaimRow marks a claim released (not a "stale" release).
func ReleaseClaimRow(ctx context.Context, tx *sql.Tx, id string) error {
	n := formatTime(now())
	_, err := tx.ExecContext(ctx,
		`UPDATE file_claims SET is_active = 0, released_at = ? WHERE id = ?`, n, id)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// EscalateClaimRow updates claim_mode and escalated_from for an in-place escalation.
func EscalateClaimRow(ctx context.Context, tx *sql.Tx, id string, newMode, prevMode models.ClaimMode) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE file_claims SET claim_mode = ?, escalated_from = ? WHERE id = ?`,
		string(newMode), string(prevMode), id)
	if err != nil {
		return fmt.Errorf("escalate claim: %w", err)
	}
	return nil
}

// CleanupStaleClaimsRows marks inactive every claim in repoPath (or all
// repos if empty) whose expires_at has passed or whose last_heartbeat is
// older than 5 minutes, and returns the count affected.
func CleanupStaleClaimsRows(ctx context.Context, tx *sql.Tx, repoPath string) (int, error) {
	staleHeartbeat := formatTime(now().Add(-5 * time.Minute))
	nowStr := formatTime(now())

	var res sql.Result
	var err error
	if repoPath == "" {
		res, err = tx.ExecContext(ctx, `
			UPDATE file_claims SET is_active = 0, deleted_at = ?, deleted_reason = 'stale'
			WHERE is_active = 1 AND (expires_at < ? OR last_heartbeat < ?)`,
			nowStr, nowStr, staleHeartbeat)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE file_claims SET is_active = 0, deleted_at = ?, deleted_reason = 'stale'
			WHERE repo_path = ? AND is_active = 1 AND (expires_at < ? OR last_heartbeat < ?)`,
			nowStr, repoPath, nowStr, staleHeartbeat)
	}
	if err != nil {
		return 0, fmt.Errorf("cleanup stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ReleaseAllClaimsForSession bulk-releases every active claim owned by sessionID.
func ReleaseAllClaimsForSession(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE file_claims SET is_active = 0, released_at = ? WHERE session_id = ? AND is_active = 1`,
		formatTime(now()), sessionID)
	if err != nil {
		return 0, fmt.Errorf("release all claims for session: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListActiveClaimsBySession returns every active claim for sessionID.
func ListActiveClaimsBySession(ctx context.Context, db *DB, sessionID string) ([]*models.FileClaim, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM file_claims WHERE session_id = ? AND is_active = 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list claims for session: %w", err)
	}
	defer rows.Close()

	var out []*models.FileClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
