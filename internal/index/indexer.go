// Package index maintains a sqlite catalog of session history logs so
// that listing and full-text search stay fast as the number of sessions
// grows. The logs themselves remain the source of truth; the index can be
// rebuilt from them at any time.
package index

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chen/internal/session"
)

type Indexer struct {
	sessionsRoot string
	dbPath       string
	db           *sql.DB
	store        *session.Store
	ftsEnabled   bool
	mu           sync.Mutex
}

func New(sessionsRoot, dbPath string, reindex bool) (*Indexer, error) {
	if reindex {
		_ = os.Remove(dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	i := &Indexer{
		sessionsRoot: sessionsRoot,
		dbPath:       dbPath,
		db:           db,
		store:        session.NewStore(sessionsRoot),
	}
	if err := i.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return i, nil
}

func (i *Indexer) Close() error {
	return i.db.Close()
}

func (i *Indexer) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_ts INTEGER,
			updated_ts INTEGER,
			turn_count INTEGER,
			title TEXT,
			preview TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			ts INTEGER,
			role TEXT,
			content TEXT,
			source_path TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, ts, id);`,
		`CREATE TABLE IF NOT EXISTS ingested_files (
			path TEXT PRIMARY KEY,
			mtime INTEGER,
			size INTEGER,
			offset INTEGER
		);`,
	}

	for _, stmt := range stmts {
		if _, err := i.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return i.ensureFTSTable()
}

func (i *Indexer) ensureFTSTable() error {
	var sqlDef string
	err := i.db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'messages_fts'`).Scan(&sqlDef)
	if err == nil {
		lower := strings.ToLower(sqlDef)
		i.ftsEnabled = strings.Contains(lower, "virtual table") && strings.Contains(lower, "fts5")
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("inspect messages_fts table: %w", err)
	}

	_, err = i.db.Exec(`CREATE VIRTUAL TABLE messages_fts USING fts5(
		session_id UNINDEXED,
		role UNINDEXED,
		content
	);`)
	if err == nil {
		i.ftsEnabled = true
		return nil
	}

	if !strings.Contains(strings.ToLower(err.Error()), "no such module: fts5") {
		return fmt.Errorf("create messages_fts: %w", err)
	}

	// Fallback for sqlite builds without FTS5 support.
	if _, err := i.db.Exec(`CREATE TABLE IF NOT EXISTS messages_fts (
		rowid INTEGER PRIMARY KEY,
		session_id TEXT,
		role TEXT,
		content TEXT
	);`); err != nil {
		return fmt.Errorf("create messages_fts fallback table: %w", err)
	}
	if _, err := i.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_fts_session_id ON messages_fts(session_id);`); err != nil {
		return fmt.Errorf("create fallback messages_fts index: %w", err)
	}
	i.ftsEnabled = false
	return nil
}

// BuildIndex brings the index up to date with the session logs on disk.
// Logs are append-only, so each file is usually ingested from its previous
// end offset rather than re-read from the start.
func (i *Indexer) BuildIndex(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	sources, err := discoverSources(i.sessionsRoot)
	if err != nil {
		return fmt.Errorf("discover session logs: %w", err)
	}
	if err := i.pruneMissingSources(ctx, sources); err != nil {
		return err
	}

	for _, src := range sources {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := i.ingestFile(ctx, src); err != nil {
			return err
		}
	}

	return i.refreshSessions(ctx, sources)
}

type fileMeta struct {
	Mtime  int64
	Size   int64
	Offset int64
}

func (i *Indexer) ingestFile(ctx context.Context, src sourceFile) error {
	stat, err := os.Stat(src.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", src.Path, err)
	}

	meta, found, err := i.getIngestedMeta(src.Path)
	if err != nil {
		return err
	}

	var offset int64
	needsReset := false
	if found {
		offset = meta.Offset
		// A log that shrank or was rewritten in place invalidates the
		// stored offset; start over for that file.
		if stat.Size() < meta.Offset ||
			stat.ModTime().Unix() < meta.Mtime ||
			(stat.ModTime().Unix() != meta.Mtime && stat.Size() == meta.Size) {
			needsReset = true
			offset = 0
		}
	}

	file, err := os.Open(src.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Path, err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, 0); err != nil {
		return fmt.Errorf("seek %s: %w", src.Path, err)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	if needsReset {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE rowid IN (SELECT id FROM messages WHERE source_path = ?);`, src.Path); err != nil {
			return fmt.Errorf("clear stale fts rows for %s: %w", src.Path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE source_path = ?;`, src.Path); err != nil {
			return fmt.Errorf("clear stale rows for %s: %w", src.Path, err)
		}
	}

	insertMsgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages(session_id, ts, role, content, source_path)
		VALUES(?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer insertMsgStmt.Close()

	insertFTSStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages_fts(rowid, session_id, role, content)
		VALUES(?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer insertFTSStmt.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var ev session.MessageEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			// A truncated tail line is expected after a crash; the
			// complete events before it are still worth indexing.
			continue
		}
		content := searchableContent(ev)
		if content == "" {
			continue
		}

		res, err := insertMsgStmt.ExecContext(ctx,
			src.SessionID,
			ev.Timestamp.Unix(),
			string(ev.Role),
			content,
			src.Path,
		)
		if err != nil {
			continue
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			continue
		}
		_, _ = insertFTSStmt.ExecContext(ctx, rowID, src.SessionID, string(ev.Role), content)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", src.Path, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ingested_files(path, mtime, size, offset)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime=excluded.mtime,
			size=excluded.size,
			offset=excluded.offset
	`, src.Path, stat.ModTime().Unix(), stat.Size(), stat.Size()); err != nil {
		return fmt.Errorf("update ingested file metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest %s: %w", src.Path, err)
	}
	return nil
}

// searchableContent flattens an event into the text the index stores for
// it. Tool invocations contribute their name and result so searches can
// find sessions by what a tool returned.
func searchableContent(ev session.MessageEvent) string {
	parts := make([]string, 0, 1+len(ev.ToolCalls))
	if s := strings.TrimSpace(ev.Content); s != "" {
		parts = append(parts, s)
	}
	for _, tc := range ev.ToolCalls {
		if s := strings.TrimSpace(tc.Name + " " + tc.Result); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func (i *Indexer) getIngestedMeta(path string) (fileMeta, bool, error) {
	row := i.db.QueryRow(`SELECT mtime, size, offset FROM ingested_files WHERE path = ?`, path)
	var meta fileMeta
	if err := row.Scan(&meta.Mtime, &meta.Size, &meta.Offset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fileMeta{}, false, nil
		}
		return fileMeta{}, false, fmt.Errorf("read ingested metadata for %s: %w", path, err)
	}
	return meta, true, nil
}

func (i *Indexer) pruneMissingSources(ctx context.Context, sources []sourceFile) error {
	keep := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		keep[src.Path] = struct{}{}
	}

	rows, err := i.db.QueryContext(ctx, `SELECT path FROM ingested_files`)
	if err != nil {
		return fmt.Errorf("query ingested files: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return fmt.Errorf("scan ingested file row: %w", err)
		}
		if _, ok := keep[path]; !ok {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate ingested files: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stale-source cleanup tx: %w", err)
	}
	defer tx.Rollback()

	for _, path := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE rowid IN (SELECT id FROM messages WHERE source_path = ?)`, path); err != nil {
			return fmt.Errorf("delete stale fts for %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE source_path = ?`, path); err != nil {
			return fmt.Errorf("delete stale messages for %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ingested_files WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete stale ingested metadata for %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stale-source cleanup: %w", err)
	}
	return nil
}

// refreshSessions rewrites the sessions table from the metadata sidecars.
// The sidecar, not the messages table, is authoritative for timestamps,
// turn counts, and titles.
func (i *Indexer) refreshSessions(ctx context.Context, sources []sourceFile) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh sessions tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions;`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	for _, src := range sources {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		meta, err := i.store.Metadata(src.SessionID)
		if err != nil {
			// A session whose sidecar is unreadable stays out of the
			// catalog but keeps its messages searchable.
			continue
		}

		preview := trimPreview(firstUserMessage(ctx, tx, src.SessionID))
		if preview == "" {
			preview = meta.Title
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions(id, created_ts, updated_ts, turn_count, title, preview)
			VALUES(?, ?, ?, ?, ?, ?)
		`, meta.ID, meta.CreatedAt.Unix(), meta.UpdatedAt.Unix(), meta.TurnCount, meta.Title, preview); err != nil {
			return fmt.Errorf("insert session %s: %w", meta.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh sessions: %w", err)
	}
	return nil
}

func firstUserMessage(ctx context.Context, tx *sql.Tx, sessionID string) string {
	var content string
	_ = tx.QueryRowContext(ctx, `
		SELECT content FROM messages
		WHERE session_id = ? AND role = 'user'
		ORDER BY id ASC
		LIMIT 1
	`, sessionID).Scan(&content)
	return content
}

func trimPreview(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= 120 {
		return s
	}
	return s[:117] + "..."
}

// ListSessions returns catalog rows newest first. With a non-empty query
// it returns only sessions whose messages match, ranked by match count.
func (i *Indexer) ListSessions(query string, limit int) ([]Session, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	query = strings.TrimSpace(query)

	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = i.db.Query(`
			SELECT id, COALESCE(created_ts, 0), COALESCE(updated_ts, 0), COALESCE(turn_count, 0), COALESCE(title, ''), COALESCE(preview, '')
			FROM sessions
			ORDER BY id DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = i.searchRows(query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0, 128)
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CreatedTS, &s.UpdatedTS, &s.TurnCount, &s.Title, &s.Preview); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (i *Indexer) searchRows(query string, limit int) (*sql.Rows, error) {
	if i.ftsEnabled {
		rows, err := i.searchRowsFTS(query, limit)
		if err == nil {
			return rows, nil
		}
		fallback, fbErr := i.searchRowsLike(query, limit)
		if fbErr != nil {
			return nil, fmt.Errorf("session search (fts and fallback failed): fts=%w, fallback=%v", err, fbErr)
		}
		return fallback, nil
	}
	return i.searchRowsLike(query, limit)
}

func (i *Indexer) searchRowsFTS(query string, limit int) (*sql.Rows, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("empty fts query")
	}
	rows, err := i.db.Query(`
		SELECT s.id, COALESCE(s.created_ts, 0), COALESCE(s.updated_ts, 0), COALESCE(s.turn_count, 0), COALESCE(s.title, ''), COALESCE(s.preview, '')
		FROM sessions s
		JOIN (
			SELECT session_id, COUNT(*) AS score
			FROM messages_fts
			WHERE messages_fts MATCH ?
			GROUP BY session_id
			ORDER BY score DESC
			LIMIT ?
		) ranked ON ranked.session_id = s.id
		ORDER BY ranked.score DESC, s.id DESC
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	return rows, nil
}

func (i *Indexer) searchRowsLike(query string, limit int) (*sql.Rows, error) {
	terms := tokenizeSearchTerms(query)
	if len(terms) == 0 {
		terms = []string{strings.ToLower(strings.TrimSpace(query))}
	}

	var b strings.Builder
	b.WriteString(`
		SELECT s.id, COALESCE(s.created_ts, 0), COALESCE(s.updated_ts, 0), COALESCE(s.turn_count, 0), COALESCE(s.title, ''), COALESCE(s.preview, '')
		FROM sessions s
		JOIN (
			SELECT session_id, COUNT(*) AS score
			FROM messages
			WHERE `)
	args := make([]any, 0, len(terms)+1)
	for idx, term := range terms {
		if idx > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	b.WriteString(`
			GROUP BY session_id
			ORDER BY score DESC
			LIMIT ?
		) ranked ON ranked.session_id = s.id
		ORDER BY ranked.score DESC, s.id DESC
	`)
	args = append(args, limit)
	rows, err := i.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("like query failed: %w", err)
	}
	return rows, nil
}

func buildFTSQuery(raw string) string {
	parts := tokenizeSearchTerms(raw)
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.ReplaceAll(p, `"`, "")
		quoted = append(quoted, fmt.Sprintf(`"%s"*`, p))
	}
	return strings.Join(quoted, " AND ")
}

func tokenizeSearchTerms(raw string) []string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "`\"'.,:;!?()[]{}<>|")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// GetSession returns a single catalog row by id.
func (i *Indexer) GetSession(sessionID string) (Session, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var s Session
	err := i.db.QueryRow(`
		SELECT id, COALESCE(created_ts, 0), COALESCE(updated_ts, 0), COALESCE(turn_count, 0), COALESCE(title, ''), COALESCE(preview, '')
		FROM sessions WHERE id = ?
	`, sessionID).Scan(&s.ID, &s.CreatedTS, &s.UpdatedTS, &s.TurnCount, &s.Title, &s.Preview)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
		}
		return Session{}, err
	}
	return s, nil
}

func FormatUnix(ts int64) string {
	if ts <= 0 {
		return "n/a"
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04")
}
