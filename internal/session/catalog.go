package session

import (
	"errors"
	"fmt"
	"os"
	"sort"
)

type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// Catalog enumerates and resumes sessions. Ordering relies purely on
// identifier comparison: UUIDv7 ids sort in creation order, so no file
// timestamps are consulted.
type Catalog struct {
	store *Store
}

func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

// List returns metadata for every session under the root, sorted by
// identifier. Directories that are not sessions, and sessions whose
// metadata cannot be read, are skipped rather than failing the listing.
func (c *Catalog) List(order Order) ([]Metadata, error) {
	entries, err := os.ReadDir(c.store.Root())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !IsID(entry.Name()) {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	if order == NewestFirst {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}

	out := make([]Metadata, 0, len(ids))
	for _, id := range ids {
		meta, err := c.store.Metadata(id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Latest returns the most recently created session's metadata.
func (c *Catalog) Latest() (Metadata, error) {
	metas, err := c.List(NewestFirst)
	if err != nil {
		return Metadata{}, err
	}
	if len(metas) == 0 {
		return Metadata{}, fmt.Errorf("%w: no sessions exist", ErrSessionNotFound)
	}
	return metas[0], nil
}

// Resume opens a session and loads its full history. On a partially
// corrupt log it still returns the open session and every readable event,
// alongside the ErrCorruptSession-wrapped error: resuming with a truncated
// tail beats refusing to resume at all.
func (c *Catalog) Resume(id string) (*Session, []MessageEvent, error) {
	sess, err := c.store.Open(id)
	if err != nil {
		return nil, nil, err
	}
	events, err := c.store.Load(id)
	if err != nil && !errors.Is(err, ErrCorruptSession) {
		return nil, nil, err
	}
	return sess, events, err
}
