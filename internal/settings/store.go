package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"chen/internal/util"
)

const settingsFileName = "settings.json"

// Store reads and writes the settings document at <dir>/settings.json.
// It is the sole owner of that file; all mutations go through Set/Reset
// and are persisted with an atomic replace so a concurrent reader never
// observes a half-written document.
type Store struct {
	dir string
}

// DefaultDir returns ~/.chen, the per-user configuration root.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".chen"), nil
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, settingsFileName)
}

// Load reads the on-disk document. A missing, unreadable, or malformed file
// is the expected first-run state, not an error: it yields the default
// document with complete=false and leaves whatever is on disk untouched.
func (s *Store) Load() (Document, bool) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		return DefaultDocument(), false
	}

	doc := DefaultDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return DefaultDocument(), false
	}
	if doc.ContextWindow < MinContextWindow || doc.ContextWindow > MaxContextWindow {
		return DefaultDocument(), false
	}
	return doc, doc.Complete()
}

// Get returns the current value of one field.
func (s *Store) Get(name string) (string, error) {
	doc, _ := s.Load()
	return doc.Get(name)
}

// Set validates and persists a single field. On validation failure the
// on-disk document is byte-for-byte unchanged.
func (s *Store) Set(name, raw string) error {
	doc, _ := s.Load()
	if err := doc.Set(name, raw); err != nil {
		return err
	}
	return s.Write(doc)
}

// Reset clears every field to its default and persists. A subsequent Load
// reports complete=false, which forces onboarding on the next run.
func (s *Store) Reset() error {
	return s.Write(DefaultDocument())
}

// Write persists a full document atomically, creating the settings
// directory on first use.
func (s *Store) Write(doc Document) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize settings: %w", err)
	}
	if err := util.AtomicWriteFile(s.Path(), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
