package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const conversationSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`

// NewConversationID mints a fresh conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// Message is one stored turn of a conversation.
type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
}

// SQLiteConversationStore persists conversation messages. Save
// opens a fresh connection per call, so a stream whose originating
// session has already closed can still land its final write.
type SQLiteConversationStore struct {
	path string
}

// NewSQLiteConversationStore prepares the schema at path and returns
// the store.
func NewSQLiteConversationStore(path string) (*SQLiteConversationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(conversationSchema); err != nil {
		return nil, fmt.Errorf("init conversation schema: %w", err)
	}
	return &SQLiteConversationStore{path: path}, nil
}

// Save appends one message on a fresh database session.
func (s *SQLiteConversationStore) Save(ctx context.Context, conversationID, role, content string) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open conversation db: %w", err)
	}
	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES (?, ?, ?)`,
		conversationID, role, content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns a conversation's messages in insertion order, capped
// at limit (0 = all).
func (s *SQLiteConversationStore) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	defer func() { _ = db.Close() }()

	query := `SELECT id, conversation_id, role, content FROM messages WHERE conversation_id = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
