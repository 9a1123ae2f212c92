package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func userEvent(content string) MessageEvent {
	return MessageEvent{Role: RoleUser, Content: content}
}

func assistantEvent(content string) MessageEvent {
	return MessageEvent{Role: RoleAssistant, Content: content}
}

func TestCreate_InitializesEmptySession(t *testing.T) {
	store := NewStore(t.TempDir())

	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !IsID(sess.ID()) {
		t.Fatalf("created session has invalid id %q", sess.ID())
	}

	meta, err := store.Metadata(sess.ID())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TurnCount != 0 {
		t.Fatalf("new session turn count = %d, want 0", meta.TurnCount)
	}
	if meta.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	events, err := store.Load(sess.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("new session should have no events, got %d", len(events))
	}
}

func TestAppendLoad_PreservesOrderAcrossReopen(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, ev := range []MessageEvent{
		userEvent("first question"),
		assistantEvent("first answer"),
		userEvent("second question"),
	} {
		if err := sess.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Simulate a process restart: fresh store, reopen by id, append more.
	store2 := NewStore(root)
	resumed, err := store2.Open(sess.ID())
	if err != nil {
		t.Fatalf("Open after restart: %v", err)
	}
	if err := resumed.Append(assistantEvent("second answer")); err != nil {
		t.Fatalf("Append after resume: %v", err)
	}

	events, err := store2.Load(sess.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"first question", "first answer", "second question", "second answer"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, content := range want {
		if events[i].Content != content {
			t.Fatalf("event %d = %q, want %q", i, events[i].Content, content)
		}
	}

	meta, err := store2.Metadata(sess.ID())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TurnCount != 4 {
		t.Fatalf("turn count = %d, want 4", meta.TurnCount)
	}
	if !meta.UpdatedAt.After(meta.CreatedAt) && !meta.UpdatedAt.Equal(meta.CreatedAt) {
		t.Fatal("updated_at should not precede created_at")
	}
}

func TestAppend_DerivesTitleFromFirstUserEvent(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sess.Append(userEvent("How do I    tune a 12-string\nguitar?")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sess.Append(userEvent("ignored for the title")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	meta, err := store.Metadata(sess.ID())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Title != "How do I tune a 12-string guitar?" {
		t.Fatalf("title = %q", meta.Title)
	}
}

func TestDeriveTitle_Truncation(t *testing.T) {
	long := strings.Repeat("status ", 30)
	title := DeriveTitle(long)
	if !strings.HasSuffix(title, "…") {
		t.Fatalf("long title should be truncated with ellipsis, got %q", title)
	}
	if len([]rune(title)) > maxTitleLen {
		t.Fatalf("title too long: %d runes", len([]rune(title)))
	}
	if DeriveTitle("   ") != "Untitled session" {
		t.Fatalf("blank content should fall back, got %q", DeriveTitle("   "))
	}
}

func TestAppend_ToolCallsRoundtrip(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ev := MessageEvent{
		Role:    RoleTool,
		Content: "search results",
		ToolCalls: []ToolCall{{
			Name:      "web_search",
			Arguments: []byte(`{"query":"weather in oslo"}`),
			Result:    "12°C, rain",
		}},
	}
	if err := sess.Append(ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.Load(sess.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 1 || len(events[0].ToolCalls) != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}
	tc := events[0].ToolCalls[0]
	if tc.Name != "web_search" || !strings.Contains(string(tc.Arguments), "oslo") {
		t.Fatalf("tool call mangled: %+v", tc)
	}
}

func TestLoad_TruncatedLastLineYieldsPartialHistory(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sess.Append(userEvent("event")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Chop the tail off the last line, as a crash mid-write would.
	path := filepath.Join(PathFor(root, sess.ID()), "history.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-20], 0o600); err != nil {
		t.Fatalf("truncate log: %v", err)
	}

	events, err := store.Load(sess.ID())
	if !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("expected ErrCorruptSession, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected the 2 intact events, got %d", len(events))
	}
}

func TestAppend_AfterTruncatedTailStartsNewLine(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sess.Append(userEvent("before the crash")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Leave a dangling partial line with no trailing newline.
	path := filepath.Join(PathFor(root, sess.ID()), "history.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(`{"role":"assistant","content":"half`); err != nil {
		t.Fatalf("write partial line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}

	resumed, err := store.Open(sess.ID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := resumed.Append(userEvent("after resume")); err != nil {
		t.Fatalf("Append after resume: %v", err)
	}

	events, err := store.Load(sess.ID())
	if !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("expected ErrCorruptSession for the dangling line, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 readable events, got %d", len(events))
	}
	if events[1].Content != "after resume" {
		t.Fatalf("post-resume event not recovered: %+v", events[1])
	}
}

func TestLoad_SkipsBadLineAndContinues(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sess.Append(userEvent("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	path := filepath.Join(PathFor(root, sess.ID()), "history.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("{this is not json}\n"); err != nil {
		t.Fatalf("write bad line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}
	if err := sess.Append(assistantEvent("second")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := store.Load(sess.ID())
	if !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("expected ErrCorruptSession, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected the 2 parseable events, got %d", len(events))
	}
	if events[0].Content != "first" || events[1].Content != "second" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestLoad_MissingSession(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load("00000000-0000-7000-8000-000000000000"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.Metadata("00000000-0000-7000-8000-000000000000"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from Metadata, got %v", err)
	}
}

func TestAppend_SetsTimestampWhenZero(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := time.Now().Add(-time.Second)
	if err := sess.Append(userEvent("hi")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := store.Load(sess.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if events[0].Timestamp.Before(before) {
		t.Fatalf("timestamp not stamped on append: %v", events[0].Timestamp)
	}
}
