package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// NewTestDatabase creates an in-memory SQLite database carrying the vault
// domain schema, for tests that exercise real SQL without a Postgres
// instance.
func NewTestDatabase(logger *logrus.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		wrapped_dek BLOB NOT NULL,
		dek_salt TEXT NOT NULL,
		quota_bytes INTEGER NOT NULL DEFAULT 1073741824,
		used_bytes INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS keks (
		version INTEGER PRIMARY KEY,
		wrapped_key BLOB NOT NULL,
		nonce BLOB NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		deprecated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		parent_id TEXT REFERENCES folders(id),
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		folder_id TEXT REFERENCES folders(id),
		filename TEXT NOT NULL,
		total_chunks INTEGER NOT NULL,
		chunk_table BLOB NOT NULL,
		wrapped_dek BLOB NOT NULL,
		dek_nonce BLOB NOT NULL,
		dek_kek_version INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		mime TEXT NOT NULL,
		checksum TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create test schema: %w", err)
	}

	logger.Debug("test database (SQLite in-memory) initialized")

	return &DB{DB: db, logger: logger}, nil
}
