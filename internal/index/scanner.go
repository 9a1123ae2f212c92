package index

import (
	"os"
	"path/filepath"
	"sort"

	"chen/internal/session"
)

type sourceFile struct {
	Path      string
	SessionID string
}

// discoverSources lists every session history log under root. Entries that
// are not session directories, or session directories without a log yet,
// are ignored.
func discoverSources(root string) ([]sourceFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sources := make([]sourceFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !session.IsID(entry.Name()) {
			continue
		}
		logPath := filepath.Join(root, entry.Name(), "history.jsonl")
		if stat, err := os.Stat(logPath); err != nil || stat.IsDir() {
			continue
		}
		sources = append(sources, sourceFile{Path: logPath, SessionID: entry.Name()})
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SessionID < sources[j].SessionID
	})
	return sources, nil
}
