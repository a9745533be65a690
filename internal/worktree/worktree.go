// Package worktree manages git worktrees used to give each coordinator
// session an isolated checkout sibling to the main repository.
package worktree

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/coordex/internal/git"
)

// Worktree describes a git worktree managed by the coordinator.
type Worktree struct {
	Path       string
	BranchName string
	Name       string
	CreatedAt  time.Time
}

// Provider defines the interface for worktree management. Mockable for tests.
type Provider interface {
	Create(name, baseRef string) (*Worktree, error)
	PathFor(name string) string
	Remove(name string, deleteBranch bool) error
	Unlock(path string) error
	List() ([]*Worktree, error)
	Prune() error
	RecoverOrphaned() ([]string, error)
	ListOrphans(activeNames []string) ([]*Worktree, error)
	CleanupOrphans(activeNames []string, verbose func(path string)) (int, error)
	StartupCleanup(activeNames []string) (int, error)
	BaseDir() string
	RepoPath() string
}

var _ Provider = (*Manager)(nil)

// namePattern is the set of characters a generated or caller-supplied
// worktree name is allowed to contain.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// NamePrefix is prepended to generated worktree names.
const NamePrefix = "parallel-"

// Manager implements Provider using the git worktree plumbing.
type Manager struct {
	baseDir  string
	repoPath string
	prefix   string
	git      git.Runner
	mu       sync.Mutex
}

// projectConfig is the `.coordex.yaml` shape this package reads directly
// (independent of the viper-backed ambient config layer, the way the
// teacher's protect.Detector reads its own `.alphie.yaml` project file).
type projectConfig struct {
	Worktree struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"worktree"`
}

// projectNamePrefix reads `worktree.prefix` from a `.coordex.yaml` file at
// repoPath's root, falling back to NamePrefix when the file is absent,
// unreadable, or sets no override.
func projectNamePrefix(repoPath string) string {
	data, err := os.ReadFile(filepath.Join(repoPath, ".coordex.yaml"))
	if err != nil {
		return NamePrefix
	}
	var cfg projectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NamePrefix
	}
	if cfg.Worktree.Prefix == "" || !namePattern.MatchString(cfg.Worktree.Prefix) {
		return NamePrefix
	}
	return cfg.Worktree.Prefix
}

// NewManager creates a Manager rooted at baseDir (defaulting to
// ~/.cache/coordex/worktrees/<repo-basename>-worktrees) for the repository at repoPath.
func NewManager(baseDir, repoPath string) (*Manager, error) {
	return newManager(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewManagerWithRunner creates a Manager with an injected git.Runner, for tests.
func NewManagerWithRunner(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	return newManager(baseDir, repoPath, runner)
}

func newManager(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "coordex", "worktrees", filepath.Base(repoPath)+"-worktrees")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	return &Manager{baseDir: baseDir, repoPath: repoPath, prefix: projectNamePrefix(repoPath), git: runner}, nil
}

// GenerateName produces a collision-resistant worktree name under the
// manager's configured prefix.
func (m *Manager) GenerateName() string {
	return fmt.Sprintf("%s%d-%04x", m.prefix, time.Now().UnixNano()%1_000_000, rand.Intn(0x10000))
}

// Create creates a new worktree named `name` (generated if empty), optionally
// branching from baseRef (defaulting to HEAD).
func (m *Manager) Create(name, baseRef string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = m.GenerateName()
	}
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("worktree name %q contains characters outside [A-Za-z0-9._-]", name)
	}

	branchName := name
	worktreePath := filepath.Join(m.baseDir, name)

	var err error
	if baseRef != "" {
		err = m.git.Run("worktree", "add", "-b", branchName, worktreePath, baseRef)
		_ = err
		if err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
	} else {
		if err := m.git.WorktreeAddNewBranch(worktreePath, branchName); err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
	}

	return &Worktree{
		Path:       worktreePath,
		BranchName: branchName,
		Name:       name,
		CreatedAt:  time.Now(),
	}, nil
}

// PathFor returns the deterministic path a worktree of the given name lives at.
func (m *Manager) PathFor(name string) string {
	return filepath.Join(m.baseDir, name)
}

// Remove removes the worktree with the given name, optionally deleting its branch.
func (m *Manager) Remove(name string, deleteBranch bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.baseDir, name)
	if err := m.git.WorktreeRemoveOptionalForce(path, true); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	if deleteBranch {
		_ = m.git.DeleteBranch(name)
	}
	return nil
}

// Unlock unlocks a locked worktree.
func (m *Manager) Unlock(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeUnlock(path); err != nil {
		return fmt.Errorf("unlock worktree: %w", err)
	}
	return nil
}

// List returns all worktrees known to git for this repository.
func (m *Manager) List() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return m.parseWorktreeList(output)
}

func (m *Manager) parseWorktreeList(output string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && current != nil:
			branchRef := strings.TrimPrefix(line, "branch ")
			current.BranchName = strings.TrimPrefix(branchRef, "refs/heads/")
			current.Name = extractName(current.BranchName, m.prefix)
		}
	}
	if current != nil {
		worktrees = append(worktrees, current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// Prune removes references to worktrees that no longer exist on disk.
func (m *Manager) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePruneExpireNow(); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// RecoverOrphaned finds directories under the base dir that git does not
// know about and removes them.
func (m *Manager) RecoverOrphaned() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePruneExpireNow(); err != nil {
		return nil, fmt.Errorf("prune worktrees: %w", err)
	}

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees, err := m.parseWorktreeList(output)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		known[wt.Path] = true
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktree base directory: %w", err)
	}

	var recovered []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		if known[path] {
			continue
		}

		_ = m.git.WorktreeUnlock(path)
		if err := m.git.WorktreeRemove(path); err != nil {
			if err := os.RemoveAll(path); err != nil {
				continue
			}
		}
		recovered = append(recovered, path)
	}
	return recovered, nil
}

// extractName reports the worktree name embedded in a branch created under
// prefix, or "" if the branch was not created under it.
func extractName(branch, prefix string) string {
	if strings.HasPrefix(branch, prefix) {
		return strings.TrimPrefix(branch, prefix)
	}
	return ""
}

func (m *Manager) isManaged(wt *Worktree) bool {
	return strings.HasPrefix(wt.BranchName, m.prefix)
}

// ListOrphans returns worktrees that are coordex-managed but whose name is
// not among activeNames, excluding the main repository worktree.
func (m *Manager) ListOrphans(activeNames []string) ([]*Worktree, error) {
	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees, err := m.parseWorktreeList(output)
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(activeNames))
	for _, n := range activeNames {
		active[n] = true
	}

	var orphans []*Worktree
	for _, wt := range worktrees {
		if !m.isManaged(wt) {
			continue
		}
		if wt.Path == m.repoPath {
			continue
		}
		if wt.Name != "" && active[wt.Name] {
			continue
		}
		orphans = append(orphans, wt)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees, invoking verbose (if non-nil)
// for each removed path, and returns the count removed.
func (m *Manager) CleanupOrphans(activeNames []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(activeNames)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		_ = m.git.WorktreeUnlock(wt.Path)
		if err := m.git.WorktreeRemove(wt.Path); err != nil {
			if err := os.RemoveAll(wt.Path); err != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}
	_ = m.git.WorktreePruneExpireNow()
	return removed, nil
}

// StartupCleanup performs orphan detection and cleanup at process startup,
// given the set of worktree names the store considers active.
func (m *Manager) StartupCleanup(activeNames []string) (int, error) {
	return m.CleanupOrphans(activeNames, nil)
}

// BaseDir returns the directory new worktrees are created under.
func (m *Manager) BaseDir() string { return m.baseDir }

// RepoPath returns the path of the main repository.
func (m *Manager) RepoPath() string { return m.repoPath }
