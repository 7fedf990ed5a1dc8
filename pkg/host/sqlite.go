package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrPersonaExists   = errors.New("persona already exists")
	ErrPersonaNotFound = errors.New("persona not found")
)

// SQLiteStore implements PersonaManager, ConversationManager and
// MessageHistory on one database file.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ PersonaManager      = (*SQLiteStore)(nil)
	_ ConversationManager = (*SQLiteStore)(nil)
	_ MessageHistory      = (*SQLiteStore)(nil)
)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create host db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection; SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			system_prompt TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			persona_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_session_idx ON conversations(session_key, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS session_conversations (
			session_key TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_key, created_at_ms DESC, id DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (Persona, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, system_prompt, created_at_ms, updated_at_ms
FROM personas
WHERE id = ?`, id)
	var p Persona
	var createdMS, updatedMS int64
	if err := row.Scan(&p.ID, &p.SystemPrompt, &createdMS, &updatedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Persona{}, false, nil
		}
		return Persona{}, false, fmt.Errorf("get persona: %w", err)
	}
	p.CreatedAt = time.UnixMilli(createdMS)
	p.UpdatedAt = time.UnixMilli(updatedMS)
	return p, true, nil
}

func (s *SQLiteStore) CreatePersona(ctx context.Context, id, prompt string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("create persona: empty id")
	}
	now := nowMS()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO personas(id, system_prompt, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, id, prompt, now, now)
	if err != nil {
		return fmt.Errorf("create persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create persona %s: %w", id, ErrPersonaExists)
	}
	return nil
}

func (s *SQLiteStore) UpdatePersona(ctx context.Context, id, prompt string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE personas
SET system_prompt = ?, updated_at_ms = ?
WHERE id = ?`, prompt, nowMS(), id)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update persona %s: %w", id, ErrPersonaNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeletePersona(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete persona begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete persona %s: %w", id, ErrPersonaNotFound)
	}
	// Conversations keep existing but fall back to no persona.
	if _, err := tx.ExecContext(ctx, `
UPDATE conversations
SET persona_id = '', updated_at_ms = ?
WHERE persona_id = ?`, nowMS(), id); err != nil {
		return fmt.Errorf("delete persona unbind conversations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete persona commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPersonas(ctx context.Context) ([]Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, system_prompt, created_at_ms, updated_at_ms
FROM personas
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		var p Persona
		var createdMS, updatedMS int64
		if err := rows.Scan(&p.ID, &p.SystemPrompt, &createdMS, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdMS)
		p.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CurrentConversationID(ctx context.Context, session string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT conversation_id
FROM session_conversations
WHERE session_key = ?`, session)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("current conversation: %w", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, session, conversationID, personaID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET persona_id = ?, updated_at_ms = ?
WHERE id = ? AND session_key = ?`, personaID, nowMS(), conversationID, session)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update conversation: %s not found for session %s", conversationID, session)
	}
	return nil
}

// NewConversation creates a conversation and makes it the session's current one.
func (s *SQLiteStore) NewConversation(ctx context.Context, session, personaID, title string) (string, error) {
	if strings.TrimSpace(session) == "" {
		return "", fmt.Errorf("new conversation: empty session")
	}
	id := uuid.NewString()
	now := nowMS()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("new conversation begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(id, session_key, persona_id, title, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, id, session, personaID, title, now, now); err != nil {
		return "", fmt.Errorf("new conversation insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_conversations(session_key, conversation_id, updated_at_ms)
VALUES(?, ?, ?)
ON CONFLICT(session_key) DO UPDATE SET
	conversation_id = excluded.conversation_id,
	updated_at_ms = excluded.updated_at_ms`, session, id, now); err != nil {
		return "", fmt.Errorf("new conversation bind session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("new conversation commit: %w", err)
	}
	return id, nil
}

// ConversationPersona returns the persona bound to a conversation.
func (s *SQLiteStore) ConversationPersona(ctx context.Context, conversationID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT persona_id FROM conversations WHERE id = ?`, conversationID)
	var personaID string
	if err := row.Scan(&personaID); err != nil {
		return "", fmt.Errorf("conversation persona: %w", err)
	}
	return personaID, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Session) == "" {
		return fmt.Errorf("append message: empty session")
	}
	if strings.TrimSpace(rec.Role) == "" {
		return fmt.Errorf("append message: empty role")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO messages(session_key, sender_id, sender_name, role, content, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, rec.Session, rec.SenderID, rec.SenderName, rec.Role, rec.Content, rec.Timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, session string, page, pageSize int) ([]Record, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_key, sender_id, sender_name, role, content, created_at_ms
FROM messages
WHERE session_key = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ? OFFSET ?`, session, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, pageSize)
	for rows.Next() {
		var rec Record
		var createdMS int64
		if err := rows.Scan(&rec.Session, &rec.SenderID, &rec.SenderName, &rec.Role, &rec.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Timestamp = time.UnixMilli(createdMS)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
