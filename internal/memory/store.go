// Package memory persists conversations, the action log and the
// knowledge base in a local SQLite database.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gohothothot/GohotBlenderAgent/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore plus the knowledge
// base queries used by the kb_* tools.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		title       TEXT,
		provider    TEXT,
		model       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT,
		tool_calls      TEXT,
		tool_call_id    TEXT,
		tool_name       TEXT,
		is_error        INTEGER DEFAULT 0,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS actions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		type        TEXT NOT NULL,
		tool_name   TEXT,
		arguments   TEXT,
		success     INTEGER DEFAULT 0,
		summary     TEXT,
		error       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, id);

	CREATE TABLE IF NOT EXISTS knowledge (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		topic       TEXT NOT NULL,
		content     TEXT NOT NULL,
		tags        TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_topic ON knowledge(topic);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, title, provider, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Provider, conv.Model, conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, provider, model, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.Provider, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, convID string, msg domain.Message) error {
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, is_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		convID, msg.Role, msg.Content, toolCalls, msg.ToolCallID, msg.ToolName, msg.IsError, now,
	)
	if err != nil {
		return err
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, convID,
	)
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	// Last N rows, then flipped back to chronological order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name, is_error
		 FROM messages WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, convID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName, &m.IsError); err != nil {
			return nil, err
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				s.logger.Warn("dropping unreadable tool calls", "conversation", convID, "error", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) LogAction(ctx context.Context, sessionID string, entry domain.ActionEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	var args sql.NullString
	if len(entry.Arguments) > 0 {
		raw, err := json.Marshal(entry.Arguments)
		if err != nil {
			return fmt.Errorf("encode arguments: %w", err)
		}
		args = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (session_id, type, tool_name, arguments, success, summary, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, entry.Type, entry.Tool, args, entry.Success, entry.Summary, entry.Error, entry.Timestamp,
	)
	return err
}

func (s *SQLiteStore) GetActions(ctx context.Context, sessionID string, limit int) ([]domain.ActionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, tool_name, arguments, success, summary, error, created_at
		 FROM actions WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ActionEntry
	for rows.Next() {
		var e domain.ActionEntry
		var tool, args, summary, errText sql.NullString
		if err := rows.Scan(&e.Type, &tool, &args, &e.Success, &summary, &errText, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Tool = tool.String
		e.Summary = summary.String
		e.Error = errText.String
		if args.Valid && args.String != "" {
			_ = json.Unmarshal([]byte(args.String), &e.Arguments)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SaveKnowledge stores a recipe and returns its row id.
func (s *SQLiteStore) SaveKnowledge(ctx context.Context, entry domain.KnowledgeEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge (topic, content, tags, created_at) VALUES (?, ?, ?, ?)`,
		entry.Topic, entry.Content, entry.Tags, entry.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SearchKnowledge matches topic, content or tags by substring, newest
// first.
func (s *SQLiteStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, content, tags, created_at
		 FROM knowledge
		 WHERE topic LIKE ? OR content LIKE ? OR tags LIKE ?
		 ORDER BY id DESC LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.KnowledgeEntry
	for rows.Next() {
		var e domain.KnowledgeEntry
		var tags sql.NullString
		if err := rows.Scan(&e.ID, &e.Topic, &e.Content, &tags, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Tags = tags.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.ConversationStore = (*SQLiteStore)(nil)
