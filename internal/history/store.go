// Package history persists turn transcripts to a local database so a
// session survives process restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/codex-go/turnengine/pkg/protocol"
)

// Store persists ResponseItems for a conversation, keyed by conversation
// ID, and implements streamreducer.History for a single open conversation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at dsn and ensures
// its schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS response_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_response_items_conversation
			ON response_items(conversation_id, seq);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Conversation binds a Store to one conversation ID, giving it the narrow
// Append(item) shape streamreducer.History expects.
type Conversation struct {
	store          *Store
	conversationID string
}

// ForConversation returns a History-compatible handle scoped to id.
func (s *Store) ForConversation(id string) *Conversation {
	return &Conversation{store: s, conversationID: id}
}

// Append persists item as the next entry in the conversation. Append panics
// are avoided: persistence errors are logged by the caller via AppendErr
// instead, since streamreducer.History.Append has no error return.
func (c *Conversation) Append(item protocol.ResponseItem) {
	_ = c.AppendErr(context.Background(), item)
}

// AppendErr is the error-returning form of Append, for callers that want to
// observe persistence failures.
func (c *Conversation) AppendErr(ctx context.Context, item protocol.ResponseItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal response item: %w", err)
	}

	var seq int
	row := c.store.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM response_items WHERE conversation_id = ?`,
		c.conversationID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("compute next sequence: %w", err)
	}

	_, err = c.store.db.ExecContext(ctx,
		`INSERT INTO response_items (conversation_id, seq, kind, payload) VALUES (?, ?, ?, ?)`,
		c.conversationID, seq, string(item.Kind), string(payload))
	if err != nil {
		return fmt.Errorf("insert response item: %w", err)
	}
	return nil
}

// Load returns every ResponseItem recorded for the conversation, in
// emission order, for replaying into a fresh wire.Request.Input.
func (c *Conversation) Load(ctx context.Context) ([]protocol.ResponseItem, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT payload FROM response_items WHERE conversation_id = ? ORDER BY seq ASC`,
		c.conversationID)
	if err != nil {
		return nil, fmt.Errorf("query response items: %w", err)
	}
	defer rows.Close()

	var items []protocol.ResponseItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan response item: %w", err)
		}
		var item protocol.ResponseItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("unmarshal response item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
