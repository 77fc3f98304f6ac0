// Package session persists conversations by name.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/termgpt/termgpt/internal/provider"
)

var (
	// ErrNotFound is returned when no conversation has the requested name.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidName is returned for names that cannot be used as a key.
	ErrInvalidName = errors.New("invalid conversation name")
)

// Store abstracts conversation persistence (JSON files, SQLite).
type Store interface {
	Save(name string, conv provider.Conversation) error
	Load(name string) (provider.Conversation, error)
	// List returns saved conversations, most recently modified first.
	List() ([]Info, error)
	Delete(name string) error
	Close() error
}

// Info is a lightweight summary of a saved conversation (for listing).
type Info struct {
	Name      string
	UpdatedAt time.Time
	Messages  int
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(filepath.Join(dir, "conversations"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, "conversations.db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s or %s)", backend, BackendFile, BackendSQLite)
	}
}

// Names returns the names in s, most recently modified first.
func Names(s Store) ([]string, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

func notFound(name string) error {
	return fmt.Errorf("%q: %w", name, ErrNotFound)
}
