package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/heartrate"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS heart_rate (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    bpm INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_heart_rate_created_at ON heart_rate (created_at)`
	insertSQL      = `INSERT INTO heart_rate (bpm, created_at) VALUES (?, ?)`
)

// SQLStore appends samples to the heart_rate table.
type SQLStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(ctx context.Context, path string, logger *logrus.Logger) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store, err := NewSQLStore(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.logger.WithField("path", path).Info("Database initialized")
	return store, nil
}

// NewSQLStore prepares the schema on an open database.
func NewSQLStore(ctx context.Context, db *sql.DB, logger *logrus.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, stmt := range []string{createTableSQL, createIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) Append(ctx context.Context, sample heartrate.Sample) error {
	if _, err := s.db.ExecContext(ctx, insertSQL, sample.BPM, sample.ObservedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%w: failed to store heart rate: %v", ErrSink, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
