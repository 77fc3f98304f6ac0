package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/termgpt/termgpt/internal/provider"
	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    name          TEXT PRIMARY KEY,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    message_count INTEGER DEFAULT 0,
    messages      TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
`

// SQLiteStore implements Store backed by a SQLite database. Timestamps are
// stored as unix nanoseconds so ordering is exact.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Save(name string, conv provider.Conversation) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	msgJSON, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	now := s.now().UnixNano()
	_, err = s.db.Exec(`
		INSERT INTO conversations (name, created_at, updated_at, message_count, messages)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			messages = excluded.messages`,
		name, now, now, len(conv), string(msgJSON),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(name string) (provider.Conversation, error) {
	var msgJSON string
	err := s.db.QueryRow(`SELECT messages FROM conversations WHERE name = ?`, name).Scan(&msgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var conv provider.Conversation
	if err := json.Unmarshal([]byte(msgJSON), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) List() ([]Info, error) {
	rows, err := s.db.Query(`
		SELECT name, updated_at, message_count
		FROM conversations ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var updatedAt int64
		if err := rows.Scan(&info.Name, &updatedAt, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updatedAt)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Delete(name string) error {
	result, err := s.db.Exec("DELETE FROM conversations WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound(name)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
