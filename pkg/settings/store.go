// Package settings persists the per-user rule toggles that drive math
// rendering. Saved values are merged over the defaults on load so new rules
// appear enabled without editing the file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"texclaw/pkg/latex"

	"github.com/gofrs/flock"
)

// ErrUnknownRule is returned when a rule id is not part of the pipeline.
var ErrUnknownRule = errors.New("unknown rule")

// File is the on-disk settings document.
type File struct {
	Rules map[latex.RuleID]bool `json:"rules"`
}

// Store holds the current rule snapshot and writes edits back to disk.
type Store struct {
	path string
	log  *slog.Logger

	current atomic.Pointer[latex.Rules]
	writeMu sync.Mutex
}

// Open loads path, or starts from latex.DefaultRules when the file is missing.
func Open(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		path: filepath.Clean(path),
		log:  log.With("component", "settings.store"),
	}

	rules, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(&rules)

	return s, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current rules. It never blocks on writers.
func (s *Store) Snapshot() latex.Rules {
	return s.current.Load().Clone()
}

// Set switches one rule and persists the result.
func (s *Store) Set(id latex.RuleID, enabled bool) error {
	return s.Update(map[latex.RuleID]bool{id: enabled})
}

// Update applies several rule changes at once. The file is re-read under the
// write lock so edits from other processes are kept, and it is only written
// when a value actually changed.
func (s *Store) Update(changes map[latex.RuleID]bool) error {
	for id := range changes {
		if !latex.IsKnownRule(id) {
			return fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	fileLock := flock.New(s.lockPath())
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("acquire settings write lock: %w", err)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			s.log.Warn("Failed to release settings write lock", "error", err)
		}
	}()

	next, err := s.readFile()
	if err != nil {
		return err
	}

	changed := false
	for id, enabled := range changes {
		if next.Enabled(id) != enabled {
			changed = true
		}
		next[id] = enabled
	}
	if changed {
		if err := s.writeFile(next); err != nil {
			return err
		}
		s.log.Info("Rules updated", "changes", len(changes))
	}
	s.current.Store(&next)

	return nil
}

// Reload re-reads the file. On failure the previous snapshot stays active.
func (s *Store) Reload() error {
	rules, err := s.load()
	if err != nil {
		return err
	}

	s.current.Store(&rules)
	return nil
}

func (s *Store) load() (latex.Rules, error) {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, fs.ErrNotExist) {
		return latex.DefaultRules(), nil
	}

	fileLock := flock.New(s.lockPath())
	if err := fileLock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire settings read lock: %w", err)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			s.log.Warn("Failed to release settings read lock", "error", err)
		}
	}()

	return s.readFile()
}

// readFile merges the saved rules over the defaults. Callers hold the lock.
func (s *Store) readFile() (latex.Rules, error) {
	rules := latex.DefaultRules()

	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return rules, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var file File
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}

	for id, enabled := range file.Rules {
		rules[id] = enabled
	}

	return rules, nil
}

// writeFile replaces the settings file through a temp file and rename.
// Callers hold the write lock.
func (s *Store) writeFile(rules latex.Rules) error {
	content, err := json.MarshalIndent(File{Rules: rules}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(append(content, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}

	return nil
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}
