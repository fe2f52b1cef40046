package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"infractl/client/internal/tokenset/domain"
)

// PostgresStore keeps token sets in the token_sets table so sessions on different hosts share one source of truth.
// The schema is created by internal/db/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a token store that uses the given db (opened with the pgx driver).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the token set for sessionKey, or nil if no row exists.
// It returns an error only for database or decode failures, not for missing rows.
func (s *PostgresStore) Get(ctx context.Context, sessionKey string) (*domain.TokenSet, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM token_sets WHERE session_key = $1`, sessionKey).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("tokenstore: get %q: %w", sessionKey, err)
	}
	return decodeTokenSet(payload)
}

// Set upserts the token set for sessionKey, or deletes the row when ts is nil.
func (s *PostgresStore) Set(ctx context.Context, sessionKey string, ts *domain.TokenSet) error {
	if ts == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM token_sets WHERE session_key = $1`, sessionKey); err != nil {
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
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_key) DO UPDATE
		SET user_id = EXCLUDED.user_id, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		sessionKey, ts.UserID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("tokenstore: set %q: %w", sessionKey, err)
	}
	return nil
}

func decodeTokenSet(payload []byte) (*domain.TokenSet, error) {
	var ts domain.TokenSet
	if err := json.Unmarshal(payload, &ts); err != nil {
		return nil, fmt.Errorf("tokenstore: decode token set: %w", err)
	}
	return &ts, nil
}
