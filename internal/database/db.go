// Package database opens and migrates the SQLite store backing Core.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Connection pragmas, applied through the driver DSN. WAL keeps readers off
// the writer's lock; the busy timeout rides out short write contention from
// the batch inserter.
var pragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

const (
	maxOpenConns = 25
	maxIdleConns = 5
)

// DB is the store handle. It embeds *sql.DB, so repositories and callers
// use the standard query surface directly.
type DB struct {
	*sql.DB
	path string
}

// Open opens the store at path, creating parent directories on first run
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)

	return &DB{DB: conn, path: path}, nil
}

// OpenMemory opens a throwaway in-memory store. Used by tests.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	// A single connection keeps every query on the same in-memory database
	conn.SetMaxOpenConns(1)
	return &DB{DB: conn, path: ":memory:"}, nil
}

// Path returns the on-disk location of the database file
func (db *DB) Path() string {
	return db.path
}

// Conn returns the underlying sql.DB for constructors that take the
// standard handle.
func (db *DB) Conn() *sql.DB {
	return db.DB
}
