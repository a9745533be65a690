// Package sessionconfig is the budget/session-scoped JSON configuration
// file: a dot-path Get/Set API over raw file bytes, distinct from the
// broader spf13/viper-based internal/config ambient layer. Writes are
// debounced so a burst of Set calls coalesces into one disk write.
package sessionconfig

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const debounceInterval = 250 * time.Millisecond

var defaultDocument = `{
	"budget": {
		"monthlyLimit": 0,
		"perSessionDefault": 0,
		"warningThresholds": [0.5, 0.8, 1.0],
		"e2bHourlyRate": 0.10
	}
}`

// Store wraps a JSON file at path with dot-path accessors and debounced
// persistence. The zero value is not usable; construct with Open.
type Store struct {
	path string

	mu    sync.Mutex
	raw   string
	dirty bool
	timer *time.Timer
}

// Open loads path, resetting to defaultDocument if the file is absent or
// its contents are not valid JSON. It never returns an error for a
// malformed file, per the component's "invalid resets, never errors"
// contract; it does return an error if path's directory cannot be created.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	raw := defaultDocument
	if data, err := os.ReadFile(path); err == nil && gjson.Valid(string(data)) {
		raw = string(data)
	}

	return &Store{path: path, raw: raw}, nil
}

// Get returns the string value at dotPath, or "" if absent.
func (s *Store) Get(dotPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := gjson.Get(s.raw, dotPath)
	if !r.Exists() {
		return ""
	}
	return r.String()
}

// GetFloat returns the numeric value at dotPath, or fallback if absent or
// not numeric.
func (s *Store) GetFloat(dotPath string, fallback float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := gjson.Get(s.raw, dotPath)
	if !r.Exists() || r.Type != gjson.Number {
		return fallback
	}
	return r.Float()
}

// Set writes value at dotPath, auto-creating intermediate objects, and
// schedules a debounced flush to disk.
func (s *Store) Set(dotPath, value string) error {
	return s.setRaw(dotPath, value, false)
}

// SetFloat writes a numeric value at dotPath.
func (s *Store) SetFloat(dotPath string, value float64) error {
	return s.setRaw(dotPath, value, true)
}

func (s *Store) setRaw(dotPath string, value any, numeric bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out string
	var err error
	if numeric {
		out, err = sjson.Set(s.raw, dotPath, value)
	} else {
		out, err = sjson.Set(s.raw, dotPath, value.(string))
	}
	if err != nil {
		return err
	}
	s.raw = out
	s.dirty = true
	s.scheduleFlush()
	return nil
}

// scheduleFlush arms (or re-arms) the debounce timer. Caller must hold mu.
func (s *Store) scheduleFlush() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceInterval, func() {
		_ = s.FlushSync()
	})
}

// FlushSync writes the current document to disk synchronously, bypassing
// the debounce timer. Safe to call from tests and at shutdown.
func (s *Store) FlushSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}
	if err := os.WriteFile(s.path, []byte(s.raw), 0o644); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Raw returns the current document bytes, mainly for tests.
func (s *Store) Raw() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}
