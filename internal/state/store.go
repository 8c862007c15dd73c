package state

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no record exists at the path.
var ErrNotFound = errors.New("state: record not found")

// Store is a key-path store for the serialized run state. The content is
// opaque to the store.
type Store interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	Close() error
}

// Backend names.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// DefaultSQLitePath is the database used when the sqlite backend is selected.
const DefaultSQLitePath = ".buildorch/buildorch.db"

// Open returns the store for backend. dbPath is only used by the sqlite backend.
func Open(backend, dbPath string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONFileStore(), nil
	case BackendSQLite:
		if dbPath == "" {
			dbPath = DefaultSQLitePath
		}
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown state store backend %q", backend)
	}
}
