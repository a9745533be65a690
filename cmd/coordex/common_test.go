package main

import (
	"errors"
	"os"
	"testing"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		kind coordexerr.Kind
		want int
	}{
		{"validation", coordexerr.KindValidation, exitValidation},
		{"conflict", coordexerr.KindConflict, exitConflict},
		{"not found", coordexerr.KindNotFound, exitNotFound},
		{"auth", coordexerr.KindAuth, exitAuth},
		{"quota", coordexerr.KindQuota, exitQuota},
		{"network", coordexerr.KindNetwork, exitNetwork},
		{"budget exceeded", coordexerr.KindBudgetExceeded, exitBudgetExceeded},
		{"timeout", coordexerr.KindTimeout, exitTimeout},
		{"resolution", coordexerr.KindResolution, exitResolution},
		{"migration", coordexerr.KindMigration, exitMigration},
		{"internal", coordexerr.KindInternal, exitInternal},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := coordexerr.New(tt.kind, "boom")
			if got := exitCodeFor(err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestExitCodeForUnknownKindIsInternal(t *testing.T) {
	err := coordexerr.New(coordexerr.Kind("BOGUS"), "boom")
	if got := exitCodeFor(err); got != exitInternal {
		t.Errorf("exitCodeFor(unknown kind) = %d, want %d", got, exitInternal)
	}
}

func TestExitCodeForNonCoordexErrIsInternal(t *testing.T) {
	if got := exitCodeFor(errors.New("plain error")); got != exitInternal {
		t.Errorf("exitCodeFor(plain error) = %d, want %d", got, exitInternal)
	}
}

func TestExitCodeForWrappedErrorUnwraps(t *testing.T) {
	wrapped := coordexerr.Wrap(coordexerr.KindNotFound, "lookup session", errors.New("no rows"))
	if got := exitCodeFor(wrapped); got != exitNotFound {
		t.Errorf("exitCodeFor(wrapped) = %d, want %d", got, exitNotFound)
	}
}

func TestResolveRepoPathUsesRepoFlagWhenSet(t *testing.T) {
	old := repoFlag
	defer func() { repoFlag = old }()

	repoFlag = "/tmp"
	path, err := resolveRepoPath()
	if err != nil {
		t.Fatalf("resolveRepoPath() error = %v", err)
	}
	if path == "" {
		t.Error("expected a non-empty canonicalized path")
	}
}

func TestResolveRepoPathFallsBackToCwd(t *testing.T) {
	old := repoFlag
	defer func() { repoFlag = old }()
	repoFlag = ""

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("os.Getwd() error = %v", err)
	}

	path, err := resolveRepoPath()
	if err != nil {
		t.Fatalf("resolveRepoPath() error = %v", err)
	}
	// CanonicalizeRepoPath falls back to the input verbatim outside a git
	// worktree, so this should resolve to the current working directory.
	if path != cwd && path == "" {
		t.Errorf("resolveRepoPath() = %q, want a non-empty path derived from %q", path, cwd)
	}
}
