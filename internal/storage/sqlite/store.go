// Package sqlite provides a SQLite-backed conversation store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/llm-council/internal/consensus"
	"github.com/johnayoung/llm-council/internal/storage"
	"github.com/johnayoung/llm-council/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const defaultTitle = "New Conversation"

// Store persists conversations in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite conversation store, creating its directory, and
// applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts an empty conversation.
func (s *Store) Create(ctx context.Context, id string) (storage.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Conversation{}, fmt.Errorf("conversation id is required")
	}
	conv := storage.Conversation{
		ID:        id,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
		Title:     defaultTitle,
		Messages:  []storage.Message{},
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.Title, toMillis(conv.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Conversation{}, storage.ErrAlreadyExists
		}
		return storage.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Get returns a conversation with its messages in insertion order.
func (s *Store) Get(ctx context.Context, id string) (storage.Conversation, error) {
	var (
		conv    storage.Conversation
		created int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Conversation{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = fromMillis(created)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT role, content, stage1_json, stage2_json, stage3_json, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []storage.Message{}
	for rows.Next() {
		var (
			msg                    storage.Message
			stage1, stage2, stage3 sql.NullString
			msgCreated             int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &stage1, &stage2, &stage3, &msgCreated); err != nil {
			return storage.Conversation{}, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(msgCreated)
		if stage1.Valid {
			if err := json.Unmarshal([]byte(stage1.String), &msg.Stage1); err != nil {
				return storage.Conversation{}, fmt.Errorf("decode stage1: %w", err)
			}
		}
		if stage2.Valid {
			msg.Stage2 = &consensus.Stage2Result{}
			if err := json.Unmarshal([]byte(stage2.String), msg.Stage2); err != nil {
				return storage.Conversation{}, fmt.Errorf("decode stage2: %w", err)
			}
		}
		if stage3.Valid {
			msg.Stage3 = &consensus.Synthesis{}
			if err := json.Unmarshal([]byte(stage3.String), msg.Stage3); err != nil {
				return storage.Conversation{}, fmt.Errorf("decode stage3: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return storage.Conversation{}, fmt.Errorf("iterate messages: %w", err)
	}
	return conv, nil
}

// List returns conversation summaries, newest first.
func (s *Store) List(ctx context.Context) ([]storage.ConversationSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT c.id, c.title, c.created_at, COUNT(m.id)
		 FROM conversations c LEFT JOIN messages m ON m.conversation_id = c.id
		 GROUP BY c.id
		 ORDER BY c.created_at DESC, c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []storage.ConversationSummary{}
	for rows.Next() {
		var (
			sum     storage.ConversationSummary
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &created, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.CreatedAt = fromMillis(created)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// AppendUserMessage adds a user turn.
func (s *Store) AppendUserMessage(ctx context.Context, id, content string) error {
	return s.insertMessage(ctx, id, storage.RoleUser, content, nil, nil, nil)
}

// AppendAssistantMessage adds a completed council run.
func (s *Store) AppendAssistantMessage(ctx context.Context, id string, msg storage.AssistantMessage) error {
	stage1, err := json.Marshal(msg.Stage1)
	if err != nil {
		return fmt.Errorf("encode stage1: %w", err)
	}
	stage2, err := json.Marshal(msg.Stage2)
	if err != nil {
		return fmt.Errorf("encode stage2: %w", err)
	}
	stage3, err := json.Marshal(msg.Stage3)
	if err != nil {
		return fmt.Errorf("encode stage3: %w", err)
	}
	return s.insertMessage(ctx, id, storage.RoleAssistant, "", stage1, stage2, stage3)
}

func (s *Store) insertMessage(ctx context.Context, id, role, content string, stage1, stage2, stage3 []byte) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, stage1_json, stage2_json, stage3_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, role, content, nullJSON(stage1), nullJSON(stage2), nullJSON(stage3), toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("append %s message: %w", role, err)
	}
	return nil
}

// UpdateTitle renames a conversation.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullJSON(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
