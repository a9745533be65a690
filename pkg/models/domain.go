// Package models holds the persisted domain types shared by every
// coordinator component.
package models

import "time"

// ExecutionMode distinguishes a session running in the local checkout/worktree
// from one whose work happens inside a remote sandbox.
type ExecutionMode string

const (
	ExecutionModeLocal  ExecutionMode = "local"
	ExecutionModeRemote ExecutionMode = "remote"
)

// ClaimMode is one of the three file-claim compatibility modes.
type ClaimMode string

const (
	ClaimExclusive ClaimMode = "EXCLUSIVE"
	ClaimShared    ClaimMode = "SHARED"
	ClaimIntent    ClaimMode = "INTENT"
)

// level returns the escalation ordering of a mode: INTENT < SHARED < EXCLUSIVE.
func (m ClaimMode) level() int {
	switch m {
	case ClaimIntent:
		return 0
	case ClaimShared:
		return 1
	case ClaimExclusive:
		return 2
	default:
		return -1
	}
}

// Valid reports whether m is one of the three defined claim modes.
func (m ClaimMode) Valid() bool { return m.level() >= 0 }

// CompatibleWith reports whether a request for mode `m` can coexist with an
// already-held claim in mode `held`, per the compatibility matrix in §4.5:
// EXCLUSIVE is incompatible with everything (including itself); SHARED and
// INTENT are mutually compatible.
func (m ClaimMode) CompatibleWith(held ClaimMode) bool {
	if m == ClaimExclusive || held == ClaimExclusive {
		return false
	}
	return true
}

// IsEscalationFrom reports whether moving from `from` to `m` is a forward
// (non-reducing) move, per INTENT < SHARED < EXCLUSIVE.
func (m ClaimMode) IsEscalationFrom(from ClaimMode) bool {
	return m.level() > from.level()
}

// ConflictType classifies a single conflict-marker region.
type ConflictType string

const (
	ConflictStructural     ConflictType = "STRUCTURAL"
	ConflictSemantic       ConflictType = "SEMANTIC"
	ConflictConcurrentEdit ConflictType = "CONCURRENT_EDIT"
	ConflictTrivial        ConflictType = "TRIVIAL"
	ConflictUnknown        ConflictType = "UNKNOWN"
)

// ResolutionStrategy names how a ConflictResolution was (or will be) resolved.
type ResolutionStrategy string

const (
	ResolutionAutoFix   ResolutionStrategy = "AUTO_FIX"
	ResolutionManual    ResolutionStrategy = "MANUAL"
	ResolutionHybrid    ResolutionStrategy = "HYBRID"
	ResolutionAbandoned ResolutionStrategy = "ABANDONED"
)

// Severity is the computed risk tier of a classified conflict.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// BudgetPeriodKind names the recurrence granularity of a BudgetPeriod.
type BudgetPeriodKind string

const (
	PeriodDaily   BudgetPeriodKind = "daily"
	PeriodWeekly  BudgetPeriodKind = "weekly"
	PeriodMonthly BudgetPeriodKind = "monthly"
)

// Session is a single registered agent process, occupying either the main
// checkout or a sibling worktree of repo_path.
type Session struct {
	ID            string
	PID           int
	RepoPath      string
	WorktreePath  string
	WorktreeName  *string
	IsMainRepo    bool
	CreatedAt     time.Time
	LastHeartbeat time.Time

	ExecutionMode ExecutionMode
	SandboxID     *string
	Prompt        *string
	Status        *string
	OutputLog     *string

	BudgetLimit *float64
	BudgetSpent float64
	Template    *string
}

// FileClaim is a cooperative, time-bounded advisory lock on one repo-relative
// file path held by one session.
type FileClaim struct {
	ID             string
	SessionID      string
	RepoPath       string
	FilePath       string
	ClaimMode      ClaimMode
	ClaimedAt      time.Time
	ExpiresAt      time.Time
	LastHeartbeat  time.Time
	EscalatedFrom  *ClaimMode
	Metadata       string // opaque JSON, "" means absent
	IsActive       bool
	ReleasedAt     *time.Time
	DeletedAt      *time.Time
	DeletedReason  *string
}

// MergeEvent records a single observed branch->target merge.
type MergeEvent struct {
	ID               string
	RepoPath         string
	BranchName       string
	SourceCommit     string
	TargetBranch     string
	TargetCommit     string
	MergedAt         time.Time
	DetectedAt       time.Time
	NotificationSent bool
}

// Subscription is a session's standing request to be notified when
// BranchName merges into TargetBranch.
type Subscription struct {
	ID           string
	SessionID    string
	RepoPath     string
	BranchName   string
	TargetBranch string
	CreatedAt    time.Time
	NotifiedAt   *time.Time
	IsActive     bool
}

// ConflictResolution is a persisted record of one classified conflict and
// (eventually) its resolution.
type ConflictResolution struct {
	ID                  string
	SessionID           *string
	RepoPath            string
	FilePath            string
	ConflictType         ConflictType
	BaseCommit          string
	SourceCommit        string
	TargetCommit        string
	ResolutionStrategy   ResolutionStrategy
	ConfidenceScore      float64
	ConflictMarkers      string
	ResolvedContent      string
	DetectedAt           time.Time
	ResolvedAt           *time.Time
	AutoFixSuggestionID  *string
	Metadata             string
}

// AutoFixSuggestion is one candidate resolution generated by the strategy chain.
type AutoFixSuggestion struct {
	ID                   string
	ConflictResolutionID string
	RepoPath             string
	FilePath             string
	ConflictType         ConflictType
	SuggestedResolution  string
	ConfidenceScore      float64
	Explanation          string
	StrategyUsed         string
	BaseContent          string
	SourceContent        string
	TargetContent        string
	GeneratedAt          time.Time
	AppliedAt            *time.Time
	WasAutoApplied       bool
}

// BudgetPeriod is a single accumulator row for one (period, period_start).
type BudgetPeriod struct {
	ID          string
	Period      BudgetPeriodKind
	PeriodStart string // canonical ISO date for the period
	BudgetLimit float64
	Spent       float64
	CreatedAt   time.Time
}
