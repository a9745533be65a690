// Package notify is the Merge Detector's fan-out port: per-session signal
// files under .coordex/signals/<session>/, watched with fsnotify.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
)

// Port delivers a merge notification to a subscribing session.
type Port interface {
	Notify(sessionID, repoPath, branch, target string) error
	Watch(sessionID, repoPath string) (<-chan Signal, func(), error)
}

// Signal is one delivered notification.
type Signal struct {
	Branch string
	Target string
	SentAt time.Time
}

// FilePort drops one file per notification under
// <repoPath>/.coordex/signals/<sessionID>/, named by the write's nanosecond timestamp so
// repeated merges to the same branch/target pair each produce a new file.
type FilePort struct {
	mu sync.Mutex
}

// NewFilePort returns the default signal-file notification port.
func NewFilePort() *FilePort {
	return &FilePort{}
}

func signalsDir(repoPath, sessionID string) string {
	return filepath.Join(repoPath, ".coordex", "signals", sessionID)
}

// Notify writes a new signal file for sessionID recording the merge.
func (p *FilePort) Notify(sessionID, repoPath, branch, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := signalsDir(repoPath, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	name := fmt.Sprintf("merge-%d.json", time.Now().UnixNano())
	path := filepath.Join(dir, name)
	body := fmt.Sprintf(`{"branch":%q,"target":%q,"sent_at":%q}`, branch, target, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return fmt.Errorf("write signal file: %w", err)
	}
	return nil
}

// Watch starts an fsnotify watcher on sessionID's signals directory and
// returns a channel of parsed signals plus a stop function. If fsnotify
// cannot start a watcher (e.g. inotify limits exhausted), Watch returns a
// channel that is never sent on and a no-op stop, mirroring the teacher's
// "continue without watcher" degradation.
func (p *FilePort) Watch(sessionID, repoPath string) (<-chan Signal, func(), error) {
	dir := signalsDir(repoPath, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, func() {}, fmt.Errorf("create signals directory: %w", err)
	}

	out := make(chan Signal, 16)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return out, func() {}, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return out, func() {}, nil
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				sig, ok := parseSignalFile(event.Name)
				if !ok {
					continue
				}
				select {
				case out <- sig:
				default:
				}
			case <-watcher.Errors:
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return out, stop, nil
}

// parseSignalFile extracts branch/target from a signal file's JSON content.
// Malformed files are skipped rather than erroring the watch loop.
func parseSignalFile(path string) (Signal, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return Signal{}, false
	}
	branch := gjson.GetBytes(data, "branch").String()
	target := gjson.GetBytes(data, "target").String()
	if branch == "" || target == "" {
		return Signal{}, false
	}
	return Signal{Branch: branch, Target: target, SentAt: time.Now().UTC()}, true
}
