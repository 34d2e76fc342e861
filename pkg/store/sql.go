package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore keeps bans in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (or creates) a SQLite database and runs migrations.
func OpenSQL(ctx context.Context, dbPath string) (*SQLStore, error) {
	if dbPath == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// WAL for concurrent readers, busy_timeout against "database is locked".
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("init schema_migrations: %w", err)
		}
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version: 1,
			statements: []string{`
			CREATE TABLE IF NOT EXISTS bans (
				name       TEXT NOT NULL PRIMARY KEY CHECK(length(name) > 0),
				reason     TEXT NOT NULL DEFAULT '',
				banned_by  TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			)`},
		},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("version %d: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", m.version); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) IsBanned(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bans WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: check ban: %w", err)
	}
	return count > 0, nil
}

// Add inserts ban; a name that is already banned keeps its first record.
func (s *SQLStore) Add(ctx context.Context, ban model.Ban) error {
	if err := validateBan(ban); err != nil {
		return err
	}
	createdAt := ban.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO bans (name, reason, banned_by, created_at) VALUES (?, ?, ?, ?)",
		ban.Name, ban.Reason, ban.BannedBy, createdAt.UTC().Format(dbTimeLayout))
	if err != nil {
		return fmt.Errorf("store: create ban: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, reason, banned_by, created_at FROM bans ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	defer rows.Close()

	var bans []model.Ban
	for rows.Next() {
		var (
			b         model.Ban
			createdAt string
		)
		if err := rows.Scan(&b.Name, &b.Reason, &b.BannedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan ban: %w", err)
		}
		b.CreatedAt, err = time.ParseInLocation(dbTimeLayout, createdAt, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("store: parse ban time: %w", err)
		}
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	return bans, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
