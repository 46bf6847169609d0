// Package database owns the SQLite connection and the generic key/value
// cache tables built on top of it.
package database

import (
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// openDatabases shares connections by path so every cache table in the
	// process rides the same WAL-mode handle.
	openDatabases = make(map[string]*Database)
	openMu        sync.Mutex
)

// Database is a thread-safe SQLite connection.
type Database struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Config holds database configuration.
type Config struct {
	Path    string
	Driver  string
	Timeout time.Duration
}

// DefaultConfig returns the default database configuration.
func DefaultConfig() Config {
	return Config{
		Driver:  "sqlite",
		Timeout: 30 * time.Second,
	}
}

// Open returns the shared connection for the path, creating it on first use.
func Open(config Config) (*Database, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if db, ok := openDatabases[config.Path]; ok {
		return db, nil
	}

	if config.Driver == "" {
		config.Driver = "sqlite"
	}

	db, err := sql.Open(config.Driver, config.Path)
	if err != nil {
		return nil, err
	}

	if config.Driver == "sqlite" {
		if err := configureSQLite(db); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("Failed to close database", "error", closeErr)
			}
			return nil, err
		}
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
		return nil, err
	}

	database := &Database{
		db:     db,
		dbPath: config.Path,
	}
	openDatabases[config.Path] = database

	return database, nil
}

// configureSQLite applies the pragmas the server depends on: WAL for
// concurrent readers while the revalidation goroutine writes, and a busy
// timeout so lock contention degrades to waiting instead of errors.
func configureSQLite(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return err
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return err
	}
	if !strings.EqualFold(journalMode, "wal") {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return err
		}
	}

	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=memory",
		"PRAGMA mmap_size=268435456",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the connection and drops it from the shared pool.
func (db *Database) Close() error {
	openMu.Lock()
	defer openMu.Unlock()
	delete(openDatabases, db.dbPath)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// DB returns the underlying sql.DB instance.
func (db *Database) DB() *sql.DB {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.db
}

// Path returns the database file path.
func (db *Database) Path() string {
	return db.dbPath
}

// ExecuteSchema executes a schema statement.
func (db *Database) ExecuteSchema(schema string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.db.Exec(schema)
	return err
}
