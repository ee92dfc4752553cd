// Package store is the durable layer backing the alarm service. It is
// the sole owner of persisted rows; nothing above it caches entities.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"alarmflow/logger"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("already exists")
)

// Store wraps the SQLite handle. All methods take a context and are safe
// for concurrent use; SQLite serialises writes internally.
type Store struct {
	db  *sql.DB
	log *logger.Log
}

// Open opens (creating if needed) the SQLite database at path and
// ensures the schema exists. Foreign keys are enforced so cascades on
// group and page deletion happen at the store level.
func Open(path string, log *logger.Log) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	log.WithComponent("store").WithFields(logger.Fields{"path": path}).Info("database ready")
	return s, nil
}

// OpenMemory opens a private in-memory database. Used by tests.
func OpenMemory(log *logger.Log) (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("cannot open in-memory database: %w", err)
	}
	// Every connection gets its own private memory database; keep
	// exactly one so the schema is visible to all queries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only composite queries
// (the access resolver builds its joins directly on it).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("cannot initialise schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithComponent("store").WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	return tx.Commit()
}
