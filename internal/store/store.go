// Package store opens the shared SQLite database. Each domain package
// (user, task, chat) creates its own tables over this handle.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite database at path with WAL journaling, a busy
// timeout, and foreign keys enabled. Foreign keys matter here: subtask
// rows cascade with their task and messages cascade with their session.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
