package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/loomworks/loom/internal/blob"
)

// PostgresOptions tunes the connection pool.
type PostgresOptions struct {
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects to Postgres, applies pool settings, ensures the
// schema, and returns a fully prepared store set.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions, blobs blob.Storage) (Stores, error) {
	if dsn == "" {
		return Stores{}, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return Stores{}, fmt.Errorf("failed to open postgres database: %w", err)
	}
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 25
	}
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return Stores{}, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return Stores{}, err
	}
	s, err := newSQLStore(db, postgresDialect)
	if err != nil {
		_ = db.Close()
		return Stores{}, err
	}
	return s.Stores(blobs), nil
}
