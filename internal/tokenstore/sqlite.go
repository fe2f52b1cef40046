package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"infractl/client/internal/tokenset/domain"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS token_sets (
	session_key TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	payload     TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`

// SQLiteStore keeps token sets in a local SQLite file so successive CLI invocations on one host share a login.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path and ensures the token_sets table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore: set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the token set for sessionKey, or nil if no row exists.
func (s *SQLiteStore) Get(ctx context.Context, sessionKey string) (*domain.TokenSet, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM token_sets WHERE session_key = ?`, sessionKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("tokenstore: get %q: %w", sessionKey, err)
	}
	return decodeTokenSet([]byte(payload))
}

// Set upserts the token set for sessionKey, or deletes the row when ts is nil.
func (s *SQLiteStore) Set(ctx context.Context, sessionKey string, ts *domain.TokenSet) error {
	if ts == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM token_sets WHERE session_key = ?`, sessionKey); err != nil {
			return fmt.Errorf("tokenstore: clear %q: %w", sessionKey, err)
		}
		return nil
	}
	payload, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_sets (session_key, user_id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE
		SET user_id = excluded.user_id, payload = excluded.payload, updated_at = excluded.updated_at`,
		sessionKey, ts.UserID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("tokenstore: set %q: %w", sessionKey, err)
	}
	return nil
}
