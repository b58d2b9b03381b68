package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the SQLite connection shared by the repositories.
type DB struct {
	*sql.DB
}

// Open creates or opens the call store at dataDir/dialhub.db, enables WAL
// mode and applies any pending migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "dialhub.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Call teardown paths write concurrently; a single connection keeps
	// SQLite from returning SQLITE_BUSY under that load.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("call store opened", "path", dbPath)
	return db, nil
}

// migrate applies every migration file that is not yet recorded in
// schema_migrations, each inside its own transaction.
func (db *DB) migrate() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		version := filepath.Base(name)
		version = version[:len(version)-len(".sql")]

		var applied int
		if err := db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		if err := db.applyMigration(name, version); err != nil {
			return err
		}
		slog.Info("applied migration", "version", version)
	}
	return nil
}

func (db *DB) applyMigration(name, version string) error {
	content, err := migrationsFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", version, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration %s: %w", version, err)
	}
	if _, err := tx.Exec(string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("executing migration %s: %w", version, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version) VALUES (?)`, version,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	return tx.Commit()
}
