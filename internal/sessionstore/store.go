// Package sessionstore persists the per-tab session identifier so a fresh
// process (or a reloaded tab) re-attaches to the same backend-side session
// instead of starting a new one.
package sessionstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/tetherlabs/tether/internal/identity"
)

// CurrentVersion is the current schema version.
const CurrentVersion = 1

// Entry is one persisted tab → session binding.
type Entry struct {
	TabID     string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a SQLite-backed map of tab identifiers to durable session
// identifiers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the session database at path and migrates its
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	// Serialize access; the store is shared between CLI and MCP paths.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate brings the schema to CurrentVersion using PRAGMA user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= CurrentVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if version < 1 {
		_, err = tx.Exec(`
			CREATE TABLE IF NOT EXISTS tab_sessions (
				tab_id     TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`)
		if err != nil {
			return fmt.Errorf("create tab_sessions table: %w", err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", CurrentVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// GetOrCreate returns the session identifier persisted for tabID, generating
// and storing a new one on first use. The returned identifier is stable
// across process restarts until Reset or Delete.
func (s *Store) GetOrCreate(tabID string) (string, error) {
	if tabID == "" {
		return "", fmt.Errorf("tab id must not be empty")
	}

	var sessionID string
	err := s.db.QueryRow("SELECT session_id FROM tab_sessions WHERE tab_id = ?", tabID).Scan(&sessionID)
	if err == nil {
		return sessionID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query session for tab %s: %w", tabID, err)
	}

	sessionID = identity.NewSessionID()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(
		"INSERT INTO tab_sessions (tab_id, session_id, created_at, updated_at) VALUES (?, ?, ?, ?)",
		tabID, sessionID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("persist session for tab %s: %w", tabID, err)
	}
	return sessionID, nil
}

// Reset discards the persisted session for tabID and generates a fresh one,
// so the next dispatch starts a new backend-side session.
func (s *Store) Reset(tabID string) (string, error) {
	if err := s.Delete(tabID); err != nil {
		return "", err
	}
	return s.GetOrCreate(tabID)
}

// Delete removes the binding for tabID. Deleting an absent tab is not an
// error.
func (s *Store) Delete(tabID string) error {
	if _, err := s.db.Exec("DELETE FROM tab_sessions WHERE tab_id = ?", tabID); err != nil {
		return fmt.Errorf("delete session for tab %s: %w", tabID, err)
	}
	return nil
}

// List returns all persisted bindings ordered by tab identifier.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT tab_id, session_id, created_at, updated_at FROM tab_sessions ORDER BY tab_id")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created, updated string
		if err := rows.Scan(&e.TabID, &e.SessionID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return entries, nil
}
