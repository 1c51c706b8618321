package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps facts and history in a SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
}

func OpenSQLite(path string, maxHistory int) (*SQLiteStore, error) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create memory directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases alive and avoids
	// SQLITE_BUSY between our own writers
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, maxHistory: maxHistory}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM facts WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to read fact: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to store fact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddHistory(ctx context.Context, entry string) error {
	if strings.TrimSpace(entry) == "" {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO history (entry) VALUES (?)`, entry); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, s.maxHistory); err != nil {
		return fmt.Errorf("failed to cap history: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecentHistory(ctx context.Context, limit int) ([]string, error) {
	limit = max(1, limit)
	rows, err := s.db.QueryContext(ctx, `SELECT entry FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	entries := []string{}
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, entry)
	}
	slices.Reverse(entries)
	return entries, rows.Err()
}

func (s *SQLiteStore) Search(ctx context.Context, query string) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	pattern := "%" + strings.ToLower(query) + "%"
	results := []string{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM facts
		WHERE lower(key || ' ' || value) LIKE ?
		ORDER BY key`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search facts: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		results = append(results, key+": "+value)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT entry FROM history WHERE lower(entry) LIKE ? ORDER BY id`, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		results = append(results, "history: "+entry)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, section Section) error {
	statements := []string{`DELETE FROM facts`, `DELETE FROM history`}
	switch section {
	case SectionFacts:
		statements = statements[:1]
	case SectionHistory:
		statements = statements[1:]
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear memory: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
