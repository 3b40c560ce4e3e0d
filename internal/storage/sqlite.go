package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"learnsync/pkg/interfaces"
)

const (
	writeQueueSize = 100
	writeTimeout   = 10 * time.Second
	retryDelay     = 100 * time.Millisecond
)

// SQLiteBackend stores snapshots in a local SQLite file.
type SQLiteBackend struct {
	db           *sql.DB
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.SnapshotBackend = (*SQLiteBackend)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// applies migrations.
func NewSQLiteBackend(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := NewMigrationManager(db, migrationFiles, "migrations")
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	b := &SQLiteBackend{
		db:           db,
		logger:       logger.Named("storage.sqlite"),
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	b.wg.Add(1)
	go b.writeLoop()

	return b, nil
}

// writeLoop processes all write operations in a single goroutine
func (b *SQLiteBackend) writeLoop() {
	defer b.wg.Done()

	for {
		select {
		case op := <-b.writeChannel:
			// FUNCTIONAL DISCOVERY: a busy database usually clears quickly, so retry exactly once
			err := op.operation(b.db)
			if err != nil {
				b.logger.Warn("snapshot write failed, retrying", zap.Error(err))
				time.Sleep(retryDelay)
				err = op.operation(b.db)
				if err != nil {
					b.logger.Error("snapshot write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-b.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (b *SQLiteBackend) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case b.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-b.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-b.shutdown:
		return ErrClosed
	}
}

// Get reads directly; WAL mode allows reads concurrent with the writer.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	var value []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM snapshots WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return value, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return b.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert snapshot: %w", err)
		}
		return nil
	})
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	return b.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DELETE FROM snapshots WHERE key = ?", key); err != nil {
			return fmt.Errorf("failed to delete snapshot: %w", err)
		}
		return nil
	})
}

// Count returns the number of stored snapshots.
func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// Close shuts down the writer and closes the database. Safe to call repeatedly.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.shutdown)
	b.wg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
