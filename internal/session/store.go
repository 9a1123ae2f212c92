package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"chen/internal/util"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCorruptSession  = errors.New("session history is partially corrupt")
)

const (
	historyFileName = "history.jsonl"
	metaFileName    = "session.json"

	maxTitleLen = 60
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall records one structured tool invocation attached to an event.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// MessageEvent is one immutable conversation record. Once appended it is
// never rewritten; replaying a session's events in file order reconstructs
// the full conversational context.
type MessageEvent struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Metadata is the mutable sidecar, rewritten atomically after every append.
type Metadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
	Title     string    `json:"title"`
}

// Store manages session directories under one root. It assumes a single
// writer per session: crash-safety comes from append+fsync on the log and
// atomic replace on the metadata, not from locks.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

// Session is an open handle for appending. The metadata it carries is the
// authoritative copy; the sidecar on disk trails it by at most one append.
type Session struct {
	store *Store
	meta  Metadata
}

func (sess *Session) ID() string {
	return sess.meta.ID
}

func (sess *Session) Meta() Metadata {
	return sess.meta
}

// Create allocates a new identifier, its directory, an empty history log,
// and a zero-turn metadata record.
func (s *Store) Create() (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	dir := PathFor(s.root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	now := time.Now().UTC()
	meta := Metadata{ID: id, CreatedAt: now, UpdatedAt: now}
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.historyPath(id), os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create history log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close history log: %w", err)
	}
	return &Session{store: s, meta: meta}, nil
}

// Open returns a handle for an existing session, for resuming.
func (s *Store) Open(id string) (*Session, error) {
	meta, err := s.Metadata(id)
	if err != nil {
		return nil, err
	}
	return &Session{store: s, meta: meta}, nil
}

// Append writes the event as one line of the history log, durably flushed
// before returning, then rewrites the metadata sidecar with an incremented
// turn count. Events appear in the log in exactly the order Append was
// called; the log itself is never rewritten.
func (sess *Session) Append(ev MessageEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	path := sess.store.historyPath(sess.meta.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	midLine, err := logEndsMidLine(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("inspect history log: %w", err)
	}
	payload := append(line, '\n')
	if midLine {
		// A crash between write and newline leaves a dangling partial
		// line; start fresh so this event stays parseable on its own.
		payload = append([]byte{'\n'}, payload...)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush history log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history log: %w", err)
	}

	sess.meta.TurnCount++
	sess.meta.UpdatedAt = ev.Timestamp
	if sess.meta.Title == "" && ev.Role == RoleUser {
		sess.meta.Title = DeriveTitle(ev.Content)
	}
	return sess.store.writeMeta(sess.meta)
}

// logEndsMidLine reports whether the log's final byte is missing its
// newline, the signature of a write interrupted by a crash.
func logEndsMidLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	var b [1]byte
	if _, err := f.ReadAt(b[:], info.Size()-1); err != nil {
		return false, err
	}
	return b[0] != '\n', nil
}

// Load reads the full history for id in file order. Lines that fail to
// parse are skipped; when any were, the parsed events are returned together
// with an ErrCorruptSession-wrapped error naming the first bad line, so a
// damaged line never hides the readable events around it.
func (s *Store) Load(id string) ([]MessageEvent, error) {
	f, err := os.Open(s.historyPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	events := make([]MessageEvent, 0, 64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var corrupt error
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ev MessageEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			if corrupt == nil {
				corrupt = fmt.Errorf("%w: line %d of %s: %v", ErrCorruptSession, lineNo, id, err)
			}
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("%w: reading %s: %v", ErrCorruptSession, id, err)
	}
	return events, corrupt
}

// Metadata reads the sidecar record for id.
func (s *Store) Metadata(id string) (Metadata, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return Metadata{}, fmt.Errorf("read session metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse session metadata for %s: %w", id, err)
	}
	return meta, nil
}

// DeriveTitle turns the first user message into a short session title.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if title == "" {
		return "Untitled session"
	}
	if utf8.RuneCountInString(title) <= maxTitleLen {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleLen-1])) + "…"
}

func (s *Store) historyPath(id string) string {
	return filepath.Join(PathFor(s.root, id), historyFileName)
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(PathFor(s.root, id), metaFileName)
}

func (s *Store) writeMeta(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	if err := util.AtomicWriteFile(s.metaPath(meta.ID), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	return nil
}
