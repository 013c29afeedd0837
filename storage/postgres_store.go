package storage

import (
	"context"

	_ "github.com/lib/pq"

	"fleamarket-scraper/utils"
)

// PostgresStore is the remote store. Session date columns are DATE typed,
// so empty or malformed dates are written as NULL.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore opens a connection to PostgreSQL, waits for it to accept
// pings, runs schema migrations and returns a ready-to-use store.
func NewPostgresStore(ctx context.Context, dsn string, cleaner FieldCleaner, logger *utils.Logger) (*PostgresStore, error) {
	db, err := openDB(ctx, "postgres", dsn, postgresDialect, logger)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)

	logger.Info("[storage] Remote store connected")
	return &PostgresStore{sqlStore: newSQLStore(db, postgresDialect, cleaner, logger)}, nil
}
