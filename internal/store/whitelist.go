// Package store persists whitelist membership in a sqlite database so the
// allow-list survives restarts. The loop goroutine is the only caller of the
// mutating methods, so the store serializes on a single connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"emberfall/server/internal/sim"
)

const busyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS whitelist (
	name       TEXT PRIMARY KEY COLLATE NOCASE,
	added_by   TEXT NOT NULL DEFAULT '',
	added_at   TEXT NOT NULL
);
`

// Whitelist provides durable allow-list membership backed by sqlite.
type Whitelist struct {
	db *sql.DB
}

// Open initialises the whitelist database, creating the schema when absent.
func Open(path string) (*Whitelist, error) {
	if path == "" {
		return nil, fmt.Errorf("store: whitelist path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite whitelist: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), busyTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Whitelist{db: db}, nil
}

// List returns every stored entry.
func (w *Whitelist) List() ([]sim.WhitelistEntry, error) {
	rows, err := w.db.Query("SELECT name, added_by, added_at FROM whitelist ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: list whitelist: %w", err)
	}
	defer rows.Close()

	var entries []sim.WhitelistEntry
	for rows.Next() {
		var entry sim.WhitelistEntry
		var addedAt string
		if err := rows.Scan(&entry.Name, &entry.AddedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("store: scan whitelist row: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, addedAt); err == nil {
			entry.AddedAt = parsed
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate whitelist: %w", err)
	}
	return entries, nil
}

// Put inserts or replaces one entry.
func (w *Whitelist) Put(entry sim.WhitelistEntry) error {
	addedAt := entry.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := w.db.Exec(
		"INSERT OR REPLACE INTO whitelist (name, added_by, added_at) VALUES (?, ?, ?)",
		entry.Name, entry.AddedBy, addedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: put whitelist entry %q: %w", entry.Name, err)
	}
	return nil
}

// Delete removes one entry by name. Deleting an absent name is not an error.
func (w *Whitelist) Delete(name string) error {
	if _, err := w.db.Exec("DELETE FROM whitelist WHERE name = ?", name); err != nil {
		return fmt.Errorf("store: delete whitelist entry %q: %w", name, err)
	}
	return nil
}

// Close releases the database handle.
func (w *Whitelist) Close() error {
	return w.db.Close()
}

var _ sim.WhitelistStore = (*Whitelist)(nil)
