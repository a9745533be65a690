package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/coordex/pkg/models"
)

var errBoom = errors.New("boom")

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMigratesInMemoryDB(t *testing.T) {
	db := setupTestDB(t)
	var count int
	if err := db.Raw().QueryRow(`SELECT COUNT(*) FROM schema_metadata WHERE key = 'version'`).Scan(&count); err != nil {
		t.Fatalf("query schema_metadata: %v", err)
	}
	if count != 1 {
		t.Errorf("expected a recorded schema version row, got count %d", count)
	}
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var inserted *models.Session
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		s, err := InsertSession(ctx, tx, &models.Session{PID: 1, RepoPath: "/repo"})
		inserted = s
		return err
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	got, err := GetSessionByPID(ctx, db.Raw(), "/repo", 1)
	if err != nil {
		t.Fatalf("GetSessionByPID() error = %v", err)
	}
	if got == nil || got.ID != inserted.ID {
		t.Errorf("GetSessionByPID() = %+v, want a row matching %+v", got, inserted)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := InsertSession(ctx, tx, &models.Session{PID: 2, RepoPath: "/repo"}); err != nil {
			return err
		}
		return errBoom
	})
	if err == nil {
		t.Fatal("expected Transaction to propagate the fn error")
	}

	got, err := GetSessionByPID(ctx, db.Raw(), "/repo", 2)
	if err != nil {
		t.Fatalf("GetSessionByPID() error = %v", err)
	}
	if got != nil {
		t.Error("expected the rolled-back insert to not be visible")
	}
}

func TestInsertSessionAssignsIDAndDefaults(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var s *models.Session
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		s, err = InsertSession(ctx, tx, &models.Session{PID: 10, RepoPath: "/repo"})
		return err
	})
	if err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
	if s.ID == "" {
		t.Error("expected InsertSession to assign a non-empty ID")
	}
	if s.ExecutionMode != models.ExecutionModeLocal {
		t.Errorf("ExecutionMode = %q, want the local default", s.ExecutionMode)
	}
	if s.CreatedAt.IsZero() || s.LastHeartbeat.IsZero() {
		t.Error("expected CreatedAt and LastHeartbeat to be populated")
	}
}

func TestGetSessionByPIDMissingReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	got, err := GetSessionByPID(context.Background(), db.Raw(), "/repo", 999)
	if err != nil {
		t.Fatalf("GetSessionByPID() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetSessionByPID() = %+v, want nil for an unknown pid", got)
	}
}

func TestHeartbeatSessionUpdatesTimestamp(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := InsertSession(ctx, tx, &models.Session{PID: 3, RepoPath: "/repo"}); err != nil {
			return err
		}
		ok, err := HeartbeatSession(ctx, tx, "/repo", 3)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("expected HeartbeatSession to report a matched row")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}

func TestHeartbeatSessionNoMatchReturnsFalse(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		ok, err := HeartbeatSession(ctx, tx, "/repo", 404)
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected HeartbeatSession to report no matched row")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}

func TestDeleteSessionRemovesRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var id string
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		s, err := InsertSession(ctx, tx, &models.Session{PID: 4, RepoPath: "/repo"})
		if err != nil {
			return err
		}
		id = s.ID
		return DeleteSession(ctx, tx, id)
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		got, err := GetSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if got != nil {
			t.Error("expected the session to be gone after DeleteSession")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}

func TestListSessionsByRepoReturnsAllRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := InsertSession(ctx, tx, &models.Session{PID: 5, RepoPath: "/repo"}); err != nil {
			return err
		}
		_, err := InsertSession(ctx, tx, &models.Session{PID: 6, RepoPath: "/repo"})
		return err
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	sessions, err := ListSessionsByRepo(ctx, db, "/repo")
	if err != nil {
		t.Fatalf("ListSessionsByRepo() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("len(sessions) = %d, want 2", len(sessions))
	}
}

func TestInsertClaimAndActiveConflictingClaims(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		c := &models.FileClaim{
			SessionID: "session-a",
			RepoPath:  "/repo",
			FilePath:  "main.go",
			ClaimMode: models.ClaimExclusive,
			ExpiresAt: now().Add(time.Hour),
		}
		_, err := InsertClaim(ctx, tx, c)
		return err
	})
	if err != nil {
		t.Fatalf("InsertClaim() error = %v", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		conflicting, err := ActiveConflictingClaims(ctx, tx, "/repo", "main.go", "session-b", models.ClaimShared)
		if err != nil {
			return err
		}
		if len(conflicting) != 1 {
			t.Errorf("len(conflicting) = %d, want 1 (EXCLUSIVE held, SHARED requested)", len(conflicting))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}

func TestActiveConflictingClaimsExcludesOwnSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		c := &models.FileClaim{
			SessionID: "session-a",
			RepoPath:  "/repo",
			FilePath:  "main.go",
			ClaimMode: models.ClaimExclusive,
			ExpiresAt: now().Add(time.Hour),
		}
		_, err := InsertClaim(ctx, tx, c)
		return err
	})
	if err != nil {
		t.Fatalf("InsertClaim() error = %v", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		conflicting, err := ActiveConflictingClaims(ctx, tx, "/repo", "main.go", "session-a", models.ClaimExclusive)
		if err != nil {
			return err
		}
		if len(conflicting) != 0 {
			t.Errorf("len(conflicting) = %d, want 0 when the requester already holds the claim", len(conflicting))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}

func TestReleaseClaimRowDeactivates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var id string
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		c, err := InsertClaim(ctx, tx, &models.FileClaim{
			SessionID: "session-a",
			RepoPath:  "/repo",
			FilePath:  "main.go",
			ClaimMode: models.ClaimShared,
			ExpiresAt: now().Add(time.Hour),
		})
		if err != nil {
			return err
		}
		id = c.ID
		return ReleaseClaimRow(ctx, tx, id)
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		got, err := GetClaim(ctx, tx, id)
		if err != nil {
			return err
		}
		if got.IsActive {
			t.Error("expected ReleaseClaimRow to deactivate the claim")
		}
		if got.ReleasedAt == nil {
			t.Error("expected ReleaseClaimRow to set ReleasedAt")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}

func TestCleanupStaleClaimsRowsMarksExpired(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := InsertClaim(ctx, tx, &models.FileClaim{
			SessionID: "session-a",
			RepoPath:  "/repo",
			FilePath:  "main.go",
			ClaimMode: models.ClaimShared,
			ExpiresAt: now().Add(-time.Hour),
		})
		return err
	})
	if err != nil {
		t.Fatalf("InsertClaim() error = %v", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		n, err := CleanupStaleClaimsRows(ctx, tx, "/repo")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("CleanupStaleClaimsRows() = %d, want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
}
