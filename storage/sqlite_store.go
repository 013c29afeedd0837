package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"fleamarket-scraper/utils"
)

// SQLiteStore is the local single-file store.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (creating if needed) the database file at path and
// migrates it.
func NewSQLiteStore(ctx context.Context, path string, cleaner FieldCleaner, logger *utils.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("sqlite: create db dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := openDB(ctx, "sqlite", dsn, sqliteDialect, logger)
	if err != nil {
		return nil, err
	}
	// One writer at a time; reads finish before the next query starts.
	db.SetMaxOpenConns(1)

	logger.Info("[storage] Local store ready at %s", path)
	return &SQLiteStore{sqlStore: newSQLStore(db, sqliteDialect, cleaner, logger), path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }
