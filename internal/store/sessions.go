package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ShayCichocki/coordex/pkg/models"
)

// InsertSession inserts a new session row inside tx and returns the
// populated model (ID, CreatedAt and LastHeartbeat are assigned here).
func InsertSession(ctx context.Context, tx *sql.Tx, s *models.Session) (*models.Session, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	n := now()
	s.CreatedAt = n
	s.LastHeartbeat = n
	if s.ExecutionMode == "" {
		s.ExecutionMode = models.ExecutionModeLocal
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, pid, repo_path, worktree_path, worktree_name, is_main_repo,
			created_at, last_heartbeat, execution_mode, sandbox_id, prompt,
			status, output_log, budget_limit, budget_spent, template
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PID, s.RepoPath, s.WorktreePath, nullableStringToSQL(s.WorktreeName),
		boolToInt(s.IsMainRepo), formatTime(s.CreatedAt), formatTime(s.LastHeartbeat),
		string(s.ExecutionMode), nullableStringToSQL(s.SandboxID), nullableStringToSQL(s.Prompt),
		nullableStringToSQL(s.Status), nullableStringToSQL(s.OutputLog),
		nullableFloat(s.BudgetLimit), s.BudgetSpent, nullableStringToSQL(s.Template))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func sqlToNullableFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

const sessionColumns = `id, pid, repo_path, worktree_path, worktree_name, is_main_repo,
	created_at, last_heartbeat, execution_mode, sandbox_id, prompt, status,
	output_log, budget_limit, budget_spent, template`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	var worktreeName, sandboxID, prompt, status, outputLog, template sql.NullString
	var createdAt, lastHeartbeat string
	var isMainRepo int
	var executionMode string
	var budgetLimit sql.NullFloat64

	if err := row.Scan(
		&s.ID, &s.PID, &s.RepoPath, &s.WorktreePath, &worktreeName, &isMainRepo,
		&createdAt, &lastHeartbeat, &executionMode, &sandboxID, &prompt, &status,
		&outputLog, &budgetLimit, &s.BudgetSpent, &template,
	); err != nil {
		return nil, err
	}

	s.WorktreeName = sqlToNullableString(worktreeName)
	s.IsMainRepo = isMainRepo != 0
	s.ExecutionMode = models.ExecutionMode(executionMode)
	s.SandboxID = sqlToNullableString(sandboxID)
	s.Prompt = sqlToNullableString(prompt)
	s.Status = sqlToNullableString(status)
	s.OutputLog = sqlToNullableString(outputLog)
	s.Template = sqlToNullableString(template)
	s.BudgetLimit = sqlToNullableFloat(budgetLimit)

	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.LastHeartbeat, err = parseTime(lastHeartbeat); err != nil {
		return nil, fmt.Errorf("parse last_heartbeat: %w", err)
	}
	return &s, nil
}

// GetSessionByPID returns the session row for pid in repoPath, or nil if none exists.
func GetSessionByPID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, repoPath string, pid int) (*models.Session, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE repo_path = ? AND pid = ?`, repoPath, pid)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by pid: %w", err)
	}
	return s, nil
}

// ListSessionsByRepo returns every session row for repoPath, alive or not;
// the caller applies liveness filtering.
func ListSessionsByRepo(ctx context.Context, db *DB, repoPath string) ([]*models.Session, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE repo_path = ?`, repoPath)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListAllRepos returns the distinct repo_path values with at least one session row.
func ListAllRepos(ctx context.Context, db *DB) ([]string, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT DISTINCT repo_path FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
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

// HeartbeatSession updates last_heartbeat for the row keyed by pid in repoPath.
// Returns false if no row matched.
func HeartbeatSession(ctx context.Context, tx *sql.Tx, repoPath string, pid int) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_heartbeat = ? WHERE repo_path = ? AND pid = ?`,
		formatTime(now()), repoPath, pid)
	if err != nil {
		return false, fmt.Errorf("heartbeat session: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteSession removes the session row by id.
func DeleteSession(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetSession returns a session by id, or nil if absent.
func GetSession(ctx context.Context, tx *sql.Tx, id string) (*models.Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateSessionStatus sets status/output_log/budget_spent for a session.
func UpdateSessionStatus(ctx context.Context, tx *sql.Tx, id string, status *string, outputLog *string, budgetSpent *float64) error {
	if status != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, *status, id); err != nil {
			return fmt.Errorf("update session status: %w", err)
		}
	}
	if outputLog != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET output_log = ? WHERE id = ?`, *outputLog, id); err != nil {
			return fmt.Errorf("update session output_log: %w", err)
		}
	}
	if budgetSpent != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET budget_spent = ? WHERE id = ?`, *budgetSpent, id); err != nil {
			return fmt.Errorf("update session budget_spent: %w", err)
		}
	}
	return nil
}
