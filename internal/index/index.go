// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/polychat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrClosed        = errors.New("index closed")
	ErrDatabaseError = errors.New("database error")
)

// Schema for the message search index.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// =============================================================================
// MESSAGE INDEX
// =============================================================================

// Index is a SQLite-backed content index over conversation messages.
// It answers "which conversations mention X" without loading the whole
// collection; the store file remains the source of truth and the index
// is rebuilt from it whenever they could diverge.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the index database at the given path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// SQLite supports one writer at a time, keep a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the database handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.db == nil {
		return nil
	}
	err := idx.db.Close()
	idx.db = nil
	return err
}

// =============================================================================
// INDEXING
// =============================================================================

// Reindex replaces the indexed rows for one conversation with its
// current searchable messages: user prompts and complete assistant
// responses. Pending and failed slots are not searchable.
func (idx *Index) Reindex(conv *model.Conversation) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.db == nil {
		return ErrClosed
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conv.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err := insertMessages(tx, conv); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove drops a conversation from the index.
func (idx *Index) Remove(convID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.db == nil {
		return ErrClosed
	}

	if _, err := idx.db.Exec("DELETE FROM messages WHERE conversation_id = ?", convID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Rebuild wipes the index and reindexes the given collection. Called
// after import and clear, where the store contents changed wholesale.
func (idx *Index) Rebuild(convs []*model.Conversation) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.db == nil {
		return ErrClosed
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	for _, conv := range convs {
		if err := insertMessages(tx, conv); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMessages(tx *sql.Tx, conv *model.Conversation) error {
	stmt, err := tx.Prepare("INSERT INTO messages (conversation_id, message_id, role, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer stmt.Close()

	for _, msg := range conv.Messages {
		searchable := msg.Role == model.RoleUser ||
			(msg.Role == model.RoleAssistant && msg.IsComplete())
		if !searchable || msg.Content == "" {
			continue
		}
		if _, err := stmt.Exec(conv.ID, msg.ID, string(msg.Role), msg.Content); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}
	return nil
}

// =============================================================================
// SEARCH
// =============================================================================

// Search returns the ids of conversations with a message containing
// the query, case-insensitive substring match.
func (idx *Index) Search(query string) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.db == nil {
		return nil, ErrClosed
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := idx.db.Query(
		`SELECT DISTINCT conversation_id FROM messages
		 WHERE lower(content) LIKE ? ESCAPE '\'`, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of indexed messages.
func (idx *Index) Count() (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.db == nil {
		return 0, ErrClosed
	}

	var n int
	err := idx.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

// escapeLike escapes LIKE wildcards in a literal query.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
