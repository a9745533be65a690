package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/coordex/pkg/models"
)

const conflictResolutionColumns = `id, session_id, repo_path, file_path, conflict_type,
	base_commit, source_commit, target_commit, resolution_strategy, confidence_score,
	conflict_markers, resolved_content, detected_at, resolved_at, auto_fix_suggestion_id, metadata`

func scanConflictResolution(row interface{ Scan(...any) error }) (*models.ConflictResolution, error) {
	var r models.ConflictResolution
	var sessionID, baseCommit, sourceCommit, targetCommit, strategy, markers, content, sugID, metadata sql.NullString
	var detectedAt string
	var resolvedAt sql.NullString
	var conflictType string

	if err := row.Scan(&r.ID, &sessionID, &r.RepoPath, &r.FilePath, &conflictType,
		&baseCommit, &sourceCommit, &targetCommit, &strategy, &r.ConfidenceScore,
		&markers, &content, &detectedAt, &resolvedAt, &sugID, &metadata); err != nil {
		return nil, err
	}

	r.ConflictType = models.ConflictType(conflictType)
	r.SessionID = sqlToNullableString(sessionID)
	r.BaseCommit = baseCommit.String
	r.SourceCommit = sourceCommit.String
	r.TargetCommit = targetCommit.String
	r.ResolutionStrategy = models.ResolutionStrategy(strategy.String)
	r.ConflictMarkers = markers.String
	r.ResolvedContent = content.String
	r.AutoFixSuggestionID = sqlToNullableString(sugID)
	r.Metadata = metadata.String

	var err error
	if r.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	if r.ResolvedAt, err = parseNullableTime(resolvedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertConflictResolution persists a newly classified conflict.
func InsertConflictResolution(ctx context.Context, tx *sql.Tx, r *models.ConflictResolution) (*models.ConflictResolution, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.DetectedAt = now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conflict_resolutions (id, session_id, repo_path, file_path, conflict_type,
			base_commit, source_commit, target_commit, resolution_strategy, confidence_score,
			conflict_markers, resolved_content, detected_at, auto_fix_suggestion_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullableStringToSQL(r.SessionID), r.RepoPath, r.FilePath, string(r.ConflictType),
		r.BaseCommit, r.SourceCommit, r.TargetCommit, string(r.ResolutionStrategy), r.ConfidenceScore,
		r.ConflictMarkers, r.ResolvedContent, formatTime(r.DetectedAt),
		nullableStringToSQL(r.AutoFixSuggestionID), r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("insert conflict resolution: %w", err)
	}
	return r, nil
}

// MarkConflictResolved sets resolved_at and the final strategy.
func MarkConflictResolved(ctx context.Context, tx *sql.Tx, id string, strategy models.ResolutionStrategy) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE conflict_resolutions SET resolved_at = ?, resolution_strategy = ? WHERE id = ?`,
		formatTime(now()), string(strategy), id)
	if err != nil {
		return fmt.Errorf("mark conflict resolved: %w", err)
	}
	return nil
}

// GetConflictResolution returns a resolution by id, or nil if absent.
func GetConflictResolution(ctx context.Context, tx *sql.Tx, id string) (*models.ConflictResolution, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+conflictResolutionColumns+` FROM conflict_resolutions WHERE id = ?`, id)
	r, err := scanConflictResolution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict resolution: %w", err)
	}
	return r, nil
}

const suggestionColumns = `id, conflict_resolution_id, repo_path, file_path, conflict_type,
	suggested_resolution, confidence_score, explanation, strategy_used, base_content,
	source_content, target_content, generated_at, applied_at, was_auto_applied`

func scanSuggestion(row interface{ Scan(...any) error }) (*models.AutoFixSuggestion, error) {
	var s models.AutoFixSuggestion
	var conflictType string
	var generatedAt string
	var appliedAt sql.NullString
	var wasAutoApplied int

	if err := row.Scan(&s.ID, &s.ConflictResolutionID, &s.RepoPath, &s.FilePath, &conflictType,
		&s.SuggestedResolution, &s.ConfidenceScore, &s.Explanation, &s.StrategyUsed,
		&s.BaseContent, &s.SourceContent, &s.TargetContent, &generatedAt, &appliedAt,
		&wasAutoApplied); err != nil {
		return nil, err
	}
	s.ConflictType = models.ConflictType(conflictType)
	s.WasAutoApplied = wasAutoApplied != 0

	var err error
	if s.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, err
	}
	if s.AppliedAt, err = parseNullableTime(appliedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSuggestion persists one candidate resolution.
func InsertSuggestion(ctx context.Context, tx *sql.Tx, s *models.AutoFixSuggestion) (*models.AutoFixSuggestion, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.GeneratedAt = now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO auto_fix_suggestions (id, conflict_resolution_id, repo_path, file_path,
			conflict_type, suggested_resolution, confidence_score, explanation, strategy_used,
			base_content, source_content, target_content, generated_at, was_auto_applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, s.ConflictResolutionID, s.RepoPath, s.FilePath, string(s.ConflictType),
		s.SuggestedResolution, s.ConfidenceScore, s.Explanation, s.StrategyUsed,
		s.BaseContent, s.SourceContent, s.TargetContent, formatTime(s.GeneratedAt))
	if err != nil {
		return nil, fmt.Errorf("insert suggestion: %w", err)
	}
	return s, nil
}

// GetSuggestion returns a suggestion by id, or nil if absent.
func GetSuggestion(ctx context.Context, tx *sql.Tx, id string) (*models.AutoFixSuggestion, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM auto_fix_suggestions WHERE id = ?`, id)
	s, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return s, nil
}

// MarkSuggestionApplied sets applied_at and was_auto_applied.
func MarkSuggestionApplied(ctx context.Context, tx *sql.Tx, id string, autoApplied bool) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE auto_fix_suggestions SET applied_at = ?, was_auto_applied = ? WHERE id = ?`,
		formatTime(now()), boolToInt(autoApplied), id)
	if err != nil {
		return fmt.Errorf("mark suggestion applied: %w", err)
	}
	return nil
}

// ListSuggestionsForConflict returns suggestions ordered by confidence descending.
func ListSuggestionsForConflict(ctx context.Context, tx *sql.Tx, conflictResolutionID string) ([]*models.AutoFixSuggestion, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+suggestionColumns+` FROM auto_fix_suggestions WHERE conflict_resolution_id = ? ORDER BY confidence_score DESC`,
		conflictResolutionID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []*models.AutoFixSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
