package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// createN makes n sessions with a small delay between them so their
// time-ordered identifiers are distinct.
func createN(t *testing.T, store *Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sess, err := store.Create()
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID())
		time.Sleep(2 * time.Millisecond)
	}
	return ids
}

func TestList_OrdersByCreationAcrossRestart(t *testing.T) {
	root := t.TempDir()
	ids := createN(t, NewStore(root), 5)

	// A fresh store sees only the directory, not creation order in memory.
	catalog := NewCatalog(NewStore(root))

	oldest, err := catalog.List(OldestFirst)
	if err != nil {
		t.Fatalf("List oldest: %v", err)
	}
	if len(oldest) != len(ids) {
		t.Fatalf("listed %d sessions, want %d", len(oldest), len(ids))
	}
	for i, meta := range oldest {
		if meta.ID != ids[i] {
			t.Fatalf("oldest-first position %d = %s, want %s", i, meta.ID, ids[i])
		}
	}

	newest, err := catalog.List(NewestFirst)
	if err != nil {
		t.Fatalf("List newest: %v", err)
	}
	for i, meta := range newest {
		if meta.ID != ids[len(ids)-1-i] {
			t.Fatalf("newest-first position %d = %s, want %s", i, meta.ID, ids[len(ids)-1-i])
		}
	}
}

func TestList_SkipsNonSessionEntries(t *testing.T) {
	root := t.TempDir()
	ids := createN(t, NewStore(root), 2)

	// Clutter the sessions directory the way real filesystems do.
	if err := os.MkdirAll(filepath.Join(root, "not-a-session"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".DS_Store"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	// A session directory missing its metadata sidecar is skipped, not fatal.
	brokenID, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, brokenID), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	metas, err := NewCatalog(NewStore(root)).List(OldestFirst)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != len(ids) {
		t.Fatalf("listed %d sessions, want %d", len(metas), len(ids))
	}
}

func TestList_MissingRootIsEmpty(t *testing.T) {
	catalog := NewCatalog(NewStore(filepath.Join(t.TempDir(), "never-created")))
	metas, err := catalog.List(NewestFirst)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("expected empty listing, got %d", len(metas))
	}
}

func TestLatest(t *testing.T) {
	root := t.TempDir()
	catalog := NewCatalog(NewStore(root))

	if _, err := catalog.Latest(); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Latest on empty root: %v", err)
	}

	ids := createN(t, NewStore(root), 3)
	latest, err := catalog.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != ids[len(ids)-1] {
		t.Fatalf("Latest = %s, want %s", latest.ID, ids[len(ids)-1])
	}
}

func TestResume(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sess.Append(userEvent("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sess.Append(assistantEvent("hi there")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	catalog := NewCatalog(NewStore(root))
	resumed, events, err := catalog.Resume(sess.ID())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID() != sess.ID() {
		t.Fatalf("resumed wrong session: %s", resumed.ID())
	}
	if len(events) != 2 {
		t.Fatalf("resumed %d events, want 2", len(events))
	}

	if _, _, err := catalog.Resume("00000000-0000-7000-8000-000000000000"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Resume of missing session: %v", err)
	}
}

func TestResume_CorruptTailStillResumes(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sess.Append(userEvent("intact")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	path := filepath.Join(PathFor(root, sess.ID()), "history.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(`{"role":"assistant","cont`); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	resumed, events, err := NewCatalog(NewStore(root)).Resume(sess.ID())
	if !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("expected ErrCorruptSession, got %v", err)
	}
	if resumed == nil {
		t.Fatal("corrupt tail should still return an open session")
	}
	if len(events) != 1 || events[0].Content != "intact" {
		t.Fatalf("expected the intact event, got %+v", events)
	}
}
