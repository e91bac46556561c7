// Package sqlite implements the execution and credential stores on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// connPragmas apply to every connection. busy_timeout lets status readers
// wait out a checkpoint write instead of failing with SQLITE_BUSY.
var connPragmas = []string{
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"cache_size(-64000)",
}

// maxReaders bounds the status-query pool.
const maxReaders = 4

// DB pairs a single-connection writer with a small reader pool. One writer
// serializes checkpoint compare-and-swap updates.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// buildDSN returns a modernc file DSN for name with params and connPragmas.
func buildDSN(name string, params ...string) string {
	query := make([]string, 0, len(params)+len(connPragmas))
	query = append(query, params...)
	for _, p := range connPragmas {
		query = append(query, "_pragma="+p)
	}
	return "file:" + name + "?" + strings.Join(query, "&")
}

// NewDB opens dbPath in WAL mode, creating its directory when needed.
func NewDB(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return openPair(context.Background(), buildDSN(dbPath, "_pragma=journal_mode(WAL)"), dbPath)
}

// openPair opens and pings the writer and reader handles for dsn.
func openPair(ctx context.Context, dsn, path string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(maxReaders)
	if err := reader.PingContext(ctx); err != nil {
		_ = errors.Join(reader.Close(), writer.Close())
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: path}, nil
}

// Open opens dbPath and brings its schema up to date.
func Open(dbPath string) (*DB, error) {
	db, err := NewDB(dbPath)
	if err != nil {
		return nil, err
	}
	version, err := RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("sqlite schema ready", "path", dbPath, "version", version)
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Close closes both handles.
func (db *DB) Close() error {
	var errs []error
	if err := db.Reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := db.Writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}
