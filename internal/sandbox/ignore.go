package sandbox

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// alwaysExcluded are path suffixes/names that are never uploaded regardless
// of .gitignore/.e2bignore contents, since they commonly carry credentials.
var alwaysExcluded = []string{
	".env", ".env.local", ".env.production",
	"id_rsa", "id_ed25519", "id_ecdsa",
	".pem", ".key", ".p12", ".pfx",
	"credentials.json", ".npmrc", ".netrc",
}

// heavyDirs are directories excluded from the upload tarball regardless of
// ignore-file contents, since they're large, regeneratable, and rarely
// useful inside a sandbox.
var heavyDirs = []string{"node_modules", ".git", "dist", "build", "vendor", ".next", "target"}

// ExclusionSet decides, for a workspace root, whether a given relative path
// should be omitted from the upload tarball.
type ExclusionSet struct {
	matchers []*gitignore.GitIgnore
}

// BuildExclusionSet loads .gitignore and .e2bignore from root (if present)
// and compiles them alongside the always-excluded and heavy-directory
// rules.
func BuildExclusionSet(root string) (*ExclusionSet, error) {
	es := &ExclusionSet{}
	for _, name := range []string{".gitignore", ".e2bignore"} {
		path := filepath.Join(root, name)
		lines, err := readIgnoreLines(path)
		if err != nil {
			continue
		}
		if len(lines) == 0 {
			continue
		}
		m := gitignore.CompileIgnoreLines(lines...)
		es.matchers = append(es.matchers, m)
	}
	return es, nil
}

// readIgnoreLines reads an ignore file, dropping blank and #-comment lines.
func readIgnoreLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// Excluded reports whether relPath (slash-separated, relative to the
// workspace root) should be omitted from the archive.
func (es *ExclusionSet) Excluded(relPath string) bool {
	base := filepath.Base(relPath)
	for _, name := range alwaysExcluded {
		if base == name || strings.HasSuffix(base, name) {
			return true
		}
	}
	for _, seg := range strings.Split(filepath.ToSlash(relPath), "/") {
		for _, dir := range heavyDirs {
			if seg == dir {
				return true
			}
		}
	}
	if es == nil {
		return false
	}
	for _, m := range es.matchers {
		if m.MatchesPath(relPath) {
			return true
		}
	}
	return false
}
