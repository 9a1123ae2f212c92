// Package session persists conversations: one directory per session holding
// an append-only JSONL event log and a metadata sidecar. Identifiers are
// UUIDv7, so lexicographic order equals creation order.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// NewID returns a fresh session identifier. UUIDv7 embeds a millisecond
// timestamp in the leading bits with extra sub-millisecond sequencing, so
// ids sort chronologically as plain strings, across process restarts.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id.String(), nil
}

// IsID reports whether s looks like a session identifier. Used to skip
// foreign entries when scanning the sessions root.
func IsID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7
}

// PathFor maps an identifier to its session directory. Pure: no filesystem
// access.
func PathFor(root, id string) string {
	return filepath.Join(root, id)
}

// DefaultRoot returns ~/.chen/sessions.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".chen", "sessions"), nil
}
