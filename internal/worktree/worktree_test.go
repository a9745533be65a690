package worktree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /home/user/project
branch refs/heads/main

worktree /home/user/.cache/coordex/worktrees/parallel-abc123
branch refs/heads/parallel-abc123

worktree /home/user/.cache/coordex/worktrees/parallel-def456
branch refs/heads/parallel-def456
`

	m := &Manager{baseDir: "/home/user/.cache/coordex/worktrees", repoPath: "/home/user/project", prefix: NamePrefix}

	worktrees, err := m.parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 3 {
		t.Fatalf("expected 3 worktrees, got %d", len(worktrees))
	}

	if worktrees[0].Path != "/home/user/project" || worktrees[0].BranchName != "main" {
		t.Errorf("worktrees[0] = %+v", worktrees[0])
	}
	if worktrees[0].Name != "" {
		t.Errorf("main worktree Name = %q, want empty", worktrees[0].Name)
	}

	if worktrees[1].BranchName != "parallel-abc123" || worktrees[1].Name != "abc123" {
		t.Errorf("worktrees[1] = %+v", worktrees[1])
	}
}

func TestParseWorktreeListNoTrailingNewline(t *testing.T) {
	output := `worktree /home/user/project
branch refs/heads/main`

	m := &Manager{baseDir: "/tmp", repoPath: "/home/user/project", prefix: NamePrefix}

	worktrees, err := m.parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 1 {
		t.Fatalf("expected 1 worktree, got %d", len(worktrees))
	}
}

func TestParseWorktreeListEmpty(t *testing.T) {
	m := &Manager{baseDir: "/tmp", repoPath: "/home/user/project", prefix: NamePrefix}

	worktrees, err := m.parseWorktreeList("")
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 0 {
		t.Errorf("expected 0 worktrees, got %d", len(worktrees))
	}
}

func TestParseWorktreeListDetachedHead(t *testing.T) {
	output := `worktree /home/user/project
HEAD abc123def

worktree /home/user/.cache/coordex/worktrees/parallel-test
branch refs/heads/parallel-test
`

	m := &Manager{baseDir: "/tmp", repoPath: "/home/user/project", prefix: NamePrefix}

	worktrees, err := m.parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(worktrees))
	}
	if worktrees[0].BranchName != "" {
		t.Errorf("detached worktree should have empty BranchName, got %q", worktrees[0].BranchName)
	}
}

func TestIsManaged(t *testing.T) {
	m := &Manager{prefix: NamePrefix}

	tests := []struct {
		branchName string
		expected   bool
	}{
		{"parallel-abc123", true},
		{"main", false},
		{"feature/my-feature", false},
	}

	for _, tt := range tests {
		t.Run(tt.branchName, func(t *testing.T) {
			wt := &Worktree{BranchName: tt.branchName}
			if got := m.isManaged(wt); got != tt.expected {
				t.Errorf("isManaged(%q) = %v, want %v", tt.branchName, got, tt.expected)
			}
		})
	}
}

func TestIsManagedCustomPrefix(t *testing.T) {
	m := &Manager{prefix: "myteam-"}

	if !m.isManaged(&Worktree{BranchName: "myteam-abc"}) {
		t.Error("expected myteam-abc to be managed under custom prefix")
	}
	if m.isManaged(&Worktree{BranchName: "parallel-abc"}) {
		t.Error("expected parallel-abc to not be managed when prefix is myteam-")
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		branchName string
		prefix     string
		expected   string
	}{
		{"parallel-abc123", NamePrefix, "abc123"},
		{"main", NamePrefix, ""},
		{"feature/something", NamePrefix, ""},
		{"myteam-xyz", "myteam-", "xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.branchName, func(t *testing.T) {
			if got := extractName(tt.branchName, tt.prefix); got != tt.expected {
				t.Errorf("extractName(%q, %q) = %q, want %q", tt.branchName, tt.prefix, got, tt.expected)
			}
		})
	}
}

func TestGenerateNameUsesManagerPrefix(t *testing.T) {
	m := &Manager{prefix: "myteam-"}
	name := m.GenerateName()
	if !namePattern.MatchString(name) {
		t.Fatalf("generated name %q contains invalid characters", name)
	}
	if got := extractName(name, "myteam-"); got == "" {
		t.Errorf("generated name %q does not carry the manager's prefix", name)
	}
}

func TestWorktreeManagerBaseDirAndRepoPath(t *testing.T) {
	m := &Manager{baseDir: "/custom/base/dir", repoPath: "/home/user/project"}

	if m.BaseDir() != "/custom/base/dir" {
		t.Errorf("BaseDir() = %q, want %q", m.BaseDir(), "/custom/base/dir")
	}
	if m.RepoPath() != "/home/user/project" {
		t.Errorf("RepoPath() = %q, want %q", m.RepoPath(), "/home/user/project")
	}
}

func TestProjectNamePrefixDefault(t *testing.T) {
	dir := t.TempDir()

	if got := projectNamePrefix(dir); got != NamePrefix {
		t.Errorf("projectNamePrefix(no config) = %q, want %q", got, NamePrefix)
	}
}

func TestProjectNamePrefixOverride(t *testing.T) {
	dir := t.TempDir()
	content := "worktree:\n  prefix: myteam-\n"
	if err := os.WriteFile(filepath.Join(dir, ".coordex.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write .coordex.yaml: %v", err)
	}

	if got := projectNamePrefix(dir); got != "myteam-" {
		t.Errorf("projectNamePrefix(override) = %q, want %q", got, "myteam-")
	}
}

func TestProjectNamePrefixRejectsInvalidCharacters(t *testing.T) {
	dir := t.TempDir()
	content := "worktree:\n  prefix: \"bad prefix!\"\n"
	if err := os.WriteFile(filepath.Join(dir, ".coordex.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write .coordex.yaml: %v", err)
	}

	if got := projectNamePrefix(dir); got != NamePrefix {
		t.Errorf("projectNamePrefix(invalid prefix) = %q, want fallback %q", got, NamePrefix)
	}
}

func TestProjectNamePrefixMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".coordex.yaml"), []byte("not: valid: yaml: ["), 0644); err != nil {
		t.Fatalf("write .coordex.yaml: %v", err)
	}

	if got := projectNamePrefix(dir); got != NamePrefix {
		t.Errorf("projectNamePrefix(malformed yaml) = %q, want fallback %q", got, NamePrefix)
	}
}

func TestNewManagerUsesProjectPrefix(t *testing.T) {
	repoDir := t.TempDir()
	content := "worktree:\n  prefix: custom-\n"
	if err := os.WriteFile(filepath.Join(repoDir, ".coordex.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write .coordex.yaml: %v", err)
	}

	baseDir := t.TempDir()
	m, err := newManager(baseDir, repoDir, nil)
	if err != nil {
		t.Fatalf("newManager() error = %v", err)
	}
	if m.prefix != "custom-" {
		t.Errorf("Manager.prefix = %q, want %q", m.prefix, "custom-")
	}
}
