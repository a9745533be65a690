// Package claims implements the Claims Manager: acquire/release/escalate of
// cooperative file claims on top of the Store's transactional primitives.
package claims

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
	"github.com/ShayCichocki/coordex/internal/store"
	"github.com/ShayCichocki/coordex/pkg/models"
)

// Manager is the Claims Manager façade.
type Manager struct {
	db *store.DB
}

// New builds a Manager over db.
func New(db *store.DB) *Manager {
	return &Manager{db: db}
}

// AcquireRequest is the input shape for AcquireClaim.
type AcquireRequest struct {
	SessionID string
	RepoPath  string
	FilePath  string
	Mode      models.ClaimMode
	Reason    string
	TTLHours  float64
}

// DefaultTTLHours is used when a request does not specify one.
const DefaultTTLHours = 24.0

// AcquireClaim validates the file path, checks the compatibility matrix
// against every other active non-expired claim on (repoPath, filePath), and
// inserts a new claim row. Returns a *coordexerr.Error with KindConflict
// naming the first conflicting claim on failure.
func (m *Manager) AcquireClaim(ctx context.Context, req AcquireRequest) (*models.FileClaim, error) {
	if err := store.ValidateFilePath(req.FilePath); err != nil {
		return nil, err
	}
	if !req.Mode.Valid() {
		return nil, coordexerr.Validation("invalid claim mode %q", req.Mode)
	}
	ttl := req.TTLHours
	if ttl <= 0 {
		ttl = DefaultTTLHours
	}
	if err := store.ValidateTTL(ttl); err != nil {
		return nil, err
	}

	var claim *models.FileClaim
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		conflicting, err := store.ActiveConflictingClaims(ctx, tx, req.RepoPath, req.FilePath, req.SessionID, req.Mode)
		if err != nil {
			return err
		}
		if len(conflicting) > 0 {
			first := conflicting[0]
			return coordexerr.Conflict(first.ID,
				"file %q is held with incompatible claim %s by session %s", req.FilePath, first.ClaimMode, first.SessionID)
		}

		c := &models.FileClaim{
			SessionID: req.SessionID,
			RepoPath:  req.RepoPath,
			FilePath:  req.FilePath,
			ClaimMode: req.Mode,
			ExpiresAt: store.Now().Add(time.Duration(ttl * float64(time.Hour))),
			Metadata:  req.Reason,
		}
		claim, err = store.InsertClaim(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// ReleaseClaim releases claim id. Unless force is set, the caller's
// sessionID must match the claim's owner; on mismatch it returns (false,
// nil) without mutation. A claim that is absent or already inactive also
// returns (false, nil).
func (m *Manager) ReleaseClaim(ctx context.Context, id, sessionID string, force bool) (bool, error) {
	var released bool
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		c, err := store.GetClaim(ctx, tx, id)
		if err != nil {
			return err
		}
		if c == nil || !c.IsActive {
			return nil
		}
		if !force && c.SessionID != sessionID {
			return nil
		}
		if err := store.ReleaseClaimRow(ctx, tx, id); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

// EscalateClaim moves claim id forward to newMode (INTENT < SHARED <
// EXCLUSIVE). Runs the same conflict check as AcquireClaim before applying.
func (m *Manager) EscalateClaim(ctx context.Context, id string, newMode models.ClaimMode) (*models.FileClaim, error) {
	if !newMode.Valid() {
		return nil, coordexerr.Validation("invalid claim mode %q", newMode)
	}

	var claim *models.FileClaim
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		c, err := store.GetClaim(ctx, tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return coordexerr.NotFound("claim %s not found", id)
		}
		if !newMode.IsEscalationFrom(c.ClaimMode) {
			return coordexerr.Validation("escalation from %s to %s is not a forward move", c.ClaimMode, newMode)
		}

		conflicting, err := store.ActiveConflictingClaims(ctx, tx, c.RepoPath, c.FilePath, c.SessionID, newMode)
		if err != nil {
			return err
		}
		if len(conflicting) > 0 {
			first := conflicting[0]
			return coordexerr.Conflict(first.ID,
				"cannot escalate to %s: file %q is held with incompatible claim %s by session %s",
				newMode, c.FilePath, first.ClaimMode, first.SessionID)
		}

		prevMode := c.ClaimMode
		if err := store.EscalateClaimRow(ctx, tx, id, newMode, prevMode); err != nil {
			return err
		}
		c.ClaimMode = newMode
		c.EscalatedFrom = &prevMode
		claim = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// CleanupStaleClaims marks inactive every claim in repoPath (or every repo
// if empty) past its TTL or heartbeat staleness window.
func (m *Manager) CleanupStaleClaims(ctx context.Context, repoPath string) (int, error) {
	var n int
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = store.CleanupStaleClaimsRows(ctx, tx, repoPath)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup stale claims: %w", err)
	}
	return n, nil
}

// ReleaseAllForSession bulk-releases every active claim owned by sessionID.
func (m *Manager) ReleaseAllForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = store.ReleaseAllClaimsForSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("release all claims for session: %w", err)
	}
	return n, nil
}

// ListActive returns every active claim owned by sessionID.
func (m *Manager) ListActive(ctx context.Context, sessionID string) ([]*models.FileClaim, error) {
	return store.ListActiveClaimsBySession(ctx, m.db, sessionID)
}
