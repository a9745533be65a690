package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/coordex/internal/conflict"
	"github.com/ShayCichocki/coordex/internal/conflict/astport"
	"github.com/ShayCichocki/coordex/internal/config"
	"github.com/ShayCichocki/coordex/internal/coordexerr"
	"github.com/ShayCichocki/coordex/internal/coordinator"
	"github.com/ShayCichocki/coordex/internal/git"
	"github.com/ShayCichocki/coordex/internal/logging"
	"github.com/ShayCichocki/coordex/internal/sandbox"
	"github.com/ShayCichocki/coordex/internal/store"
)

// Exit codes, distinguished per §8 of the operation contract: 0 success,
// nonzero codes separate validation, contention, not-found, budget/timeout,
// and internal failure so scripts can branch on them.
const (
	exitOK             = 0
	exitValidation     = 10
	exitConflict       = 11
	exitNotFound       = 12
	exitAuth           = 13
	exitQuota          = 14
	exitNetwork        = 15
	exitBudgetExceeded = 16
	exitTimeout        = 17
	exitResolution     = 18
	exitMigration      = 19
	exitInternal       = 20
)

func exitCodeFor(err error) int {
	var ce *coordexerr.Error
	if !errors.As(err, &ce) {
		return exitInternal
	}
	switch ce.Kind {
	case coordexerr.KindValidation:
		return exitValidation
	case coordexerr.KindConflict:
		return exitConflict
	case coordexerr.KindNotFound:
		return exitNotFound
	case coordexerr.KindAuth:
		return exitAuth
	case coordexerr.KindQuota:
		return exitQuota
	case coordexerr.KindNetwork:
		return exitNetwork
	case coordexerr.KindBudgetExceeded:
		return exitBudgetExceeded
	case coordexerr.KindTimeout:
		return exitTimeout
	case coordexerr.KindResolution:
		return exitResolution
	case coordexerr.KindMigration:
		return exitMigration
	default:
		return exitInternal
	}
}

// resolveRepoPath canonicalizes --repo (or the current directory) via
// `git rev-parse --show-toplevel`, falling back to the input verbatim.
func resolveRepoPath() (string, error) {
	path := repoFlag
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = cwd
	}
	return coordinator.CanonicalizeRepoPath(path), nil
}

// newLogger builds the process-wide logger from COORDEX_LOG_LEVEL and the
// --json flag.
func newLogger() (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level: os.Getenv("COORDEX_LOG_LEVEL"),
		JSON:  jsonOutput,
	}), nil
}

// openStore opens the per-repo database (falling back to the global one)
// and runs pending migrations.
func openStore(ctx context.Context, log *slog.Logger) (*store.DB, error) {
	repoPath, err := resolveRepoPath()
	if err != nil {
		return nil, err
	}

	dbPath := store.ProjectDBPath(repoPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		globalPath, gErr := store.GlobalDBPath()
		if gErr == nil {
			dbPath = globalPath
		}
	}

	db, err := store.Open(ctx, dbPath, log)
	if err != nil {
		return nil, coordexerr.Wrap(coordexerr.KindInternal, "open database", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, coordexerr.Wrap(coordexerr.KindMigration, "migrate database", err)
	}
	return db, nil
}

func gitRunnerFactory(path string) git.Runner {
	return git.NewRunner(path)
}

// newASTRegistry layers the Go-specific parser port over the heuristic
// fallback used for every other language.
func newASTRegistry() *astport.Registry {
	return astport.NewRegistry(map[string]astport.Port{
		"go": astport.NewGoPort(),
	})
}

func newConflictEngine(db *store.DB, log *slog.Logger) *conflict.Engine {
	engine := conflict.New(db, gitRunnerFactory, newASTRegistry(), log)

	cfg, err := config.Load()
	if err == nil && cfg.Anthropic.NarrateSemantic {
		model := anthropic.Model(cfg.Anthropic.Model)
		switch {
		case cfg.Anthropic.UseBedrock:
			engine = engine.WithNarrator(conflict.NewBedrockNarrator(context.Background(), cfg.Anthropic.AWSRegion, cfg.Anthropic.AWSProfile, model))
		case cfg.Anthropic.APIKey != "":
			engine = engine.WithNarrator(conflict.NewAnthropicNarrator(cfg.Anthropic.APIKey, model))
		}
	}
	return engine
}

func newSandboxController(cfg *config.Config, log *slog.Logger) *sandbox.Controller {
	provider := sandbox.NewHTTPProvider(cfg.Sandbox.BaseURL, nil)
	return sandbox.New(provider, log)
}

// currentSessionID resolves this process's session id in repoPath, failing
// typed if it has not registered yet.
func currentSessionID(ctx context.Context, db *store.DB, repoPath string) (string, error) {
	s, err := store.GetSessionByPID(ctx, db.Raw(), repoPath, os.Getpid())
	if err != nil {
		return "", coordexerr.Wrap(coordexerr.KindInternal, "look up current session", err)
	}
	if s == nil {
		return "", coordexerr.NotFound("no session registered for pid %d in %s; run `coordex session register` first", os.Getpid(), repoPath)
	}
	return s.ID, nil
}
