package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chen/internal/session"
)

type Exporter struct {
	dir string
}

// NewExporter writes transcripts under overrideDir when given one,
// otherwise under the exports directory next to the session store.
func NewExporter(overrideDir string) (*Exporter, error) {
	dir := strings.TrimSpace(overrideDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".chen", "exports")
	} else if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve cwd: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}
	return &Exporter{dir: dir}, nil
}

// Export writes the session as a markdown file named after its identifier
// and returns the path written.
func (e *Exporter) Export(meta session.Metadata, events []session.MessageEvent, toggles Toggles) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	body := BuildMarkdown(events, toggles)
	md := BuildSessionMarkdown(meta, body, time.Now().UTC())
	path := filepath.Join(e.dir, safeFileName(meta.ID)+".md")
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "session"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}
