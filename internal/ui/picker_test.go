package ui

import (
	"reflect"
	"strings"
	"testing"

	"chen/internal/index"
	"chen/internal/session"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
)

func ids(in []index.Session) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.ID)
	}
	return out
}

func TestOrderedSessions(t *testing.T) {
	in := []index.Session{
		{ID: "c", UpdatedTS: 30},
		{ID: "b", UpdatedTS: 20},
		{ID: "a", UpdatedTS: 10},
	}

	m := Picker{}
	if got := ids(m.orderedSessions(in)); !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Fatalf("default order mismatch: %v", got)
	}

	m.oldestFirst = true
	if got := ids(m.orderedSessions(in)); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("oldest-first order mismatch: %v", got)
	}
}

func TestOrderedSessionsPreservesSearchRanking(t *testing.T) {
	in := []index.Session{
		{ID: "best-match", UpdatedTS: 1},
		{ID: "second", UpdatedTS: 999},
	}
	m := Picker{oldestFirst: true, searchQuery: "needle"}
	got := ids(m.orderedSessions(in))
	if !reflect.DeepEqual(got, []string{"best-match", "second"}) {
		t.Fatalf("search ordering should preserve backend ranking: %v", got)
	}
}

func TestApplySessions_PreservesSelection(t *testing.T) {
	in := []index.Session{
		{ID: "one"},
		{ID: "two"},
		{ID: "three"},
	}
	m := Picker{
		list:     list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20),
		sessions: make(map[string]index.Session),
	}
	m.applySessions(in)
	if m.selectedID != "one" {
		t.Fatalf("initial selection = %q, want first item", m.selectedID)
	}

	m.selectedID = "two"
	m.applySessions(in)
	if m.selectedID != "two" {
		t.Fatalf("selection not preserved across refresh: %q", m.selectedID)
	}
	if m.list.Index() != 1 {
		t.Fatalf("list index = %d, want 1", m.list.Index())
	}
}

func TestApplySessions_EmptyListing(t *testing.T) {
	m := Picker{
		list:     list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20),
		sessions: make(map[string]index.Session),
		viewport: viewport.New(60, 20),
	}
	m.selectedID = "stale"
	m.applySessions(nil)
	if m.selectedID != "" {
		t.Fatalf("selection should clear on empty listing, got %q", m.selectedID)
	}
}

func TestSessionItemText(t *testing.T) {
	item := sessionItem{s: index.Session{
		ID:        "0191a3de-0000-7000-8000-000000000000",
		Title:     "how do I tune a guitar",
		TurnCount: 6,
		Preview:   "how do I tune a guitar",
	}}
	if item.Title() != "how do I tune a guitar" {
		t.Fatalf("title = %q", item.Title())
	}
	if !strings.Contains(item.Description(), "6 turns") {
		t.Fatalf("description missing turn count: %q", item.Description())
	}
	if !strings.Contains(item.FilterValue(), "guitar") {
		t.Fatalf("filter value missing title text: %q", item.FilterValue())
	}

	untitled := sessionItem{s: index.Session{ID: "0191a3de-0000-7000-8000-000000000000"}}
	if !strings.HasPrefix(untitled.Title(), "0191a3de") {
		t.Fatalf("untitled sessions should fall back to the id, got %q", untitled.Title())
	}
}

func TestExportCmdWaitsForLoadedHistory(t *testing.T) {
	m := Picker{events: map[string][]session.MessageEvent{}}
	if cmd := m.exportCmd("0191a3de-0000-7000-8000-000000000000"); cmd != nil {
		t.Fatal("export before the history has loaded should be a no-op")
	}

	m.events["0191a3de-0000-7000-8000-000000000000"] = []session.MessageEvent{
		{Role: session.RoleUser, Content: "hello"},
	}
	if cmd := m.exportCmd("0191a3de-0000-7000-8000-000000000000"); cmd == nil {
		t.Fatal("export with loaded history should produce a command")
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("abcdef", 10); got != "abcdef" {
		t.Fatalf("short strings pass through, got %q", got)
	}
	if got := shorten("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("got %q", got)
	}
}
