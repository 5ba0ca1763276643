package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/internal/blob"
)

// OpenSQLite opens the SQLite database at path, creating the file and its
// parent directory on first use, and returns a fully prepared store set.
func OpenSQLite(path string, blobs blob.Storage) (Stores, error) {
	if path == "" {
		return Stores{}, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Stores{}, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return Stores{}, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return Stores{}, err
	}
	s, err := newSQLStore(db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return Stores{}, err
	}
	return s.Stores(blobs), nil
}
