// Package storedb opens SQLite databases and applies per-module schema
// migrations.
package storedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jingkaihe/mocklock/internal/errx"
)

// Migration is one ordered schema step for a module.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	Path       string
	Module     string
	Migrations []Migration
}

// Open creates the parent directory, opens the database and applies any
// migrations of opts.Module that have not run yet.
func Open(opts OpenOptions) (*sql.DB, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errx.With(ErrOpen, ": path is required")
	}
	if strings.TrimSpace(opts.Module) == "" {
		return nil, errx.With(ErrOpen, ": module is required")
	}
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, errx.With(ErrOpen, ": create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(opts.Path))
	if err != nil {
		return nil, errx.Wrap(ErrOpen, err)
	}
	// One writer keeps sqlite free of SQLITE_BUSY under concurrent callers.
	db.SetMaxOpenConns(1)

	if err := Migrate(db, opts.Module, opts.Migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Migrate applies pending migrations for module in version order.
func Migrate(db *sql.DB, module string, migrations []Migration) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL,
  PRIMARY KEY (module, version)
)`); err != nil {
		return errx.With(ErrMigrate, ": create schema_migrations: %w", err)
	}

	ordered := append([]Migration(nil), migrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	applied, err := appliedVersions(db, module)
	if err != nil {
		return err
	}

	for _, m := range ordered {
		if m.Version <= 0 {
			return errx.With(ErrMigrate, ": %s: invalid version %d", module, m.Version)
		}
		if applied[m.Version] {
			continue
		}
		if err := apply(db, module, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(db *sql.DB, module string) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations WHERE module = ?`, module)
	if err != nil {
		return nil, errx.With(ErrMigrate, ": read applied versions: %w", err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, errx.With(ErrMigrate, ": scan version: %w", err)
		}
		out[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errx.With(ErrMigrate, ": iterate versions: %w", err)
	}
	return out, nil
}

func apply(db *sql.DB, module string, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errx.With(ErrMigrate, ": begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return errx.With(ErrMigrate, ": %s v%d (%s): %w", module, m.Version, m.Name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations(module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
		module,
		m.Version,
		m.Name,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errx.With(ErrMigrate, ": record %s v%d: %w", module, m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return errx.With(ErrMigrate, ": commit %s v%d: %w", module, m.Version, err)
	}
	return nil
}
