// Package tokenstore provides the Token Store: keyed storage for the current token set shared by every session
// instance that uses the same session key. It is the single coordination point between sessions.
package tokenstore

import (
	"context"

	"infractl/client/internal/tokenset/domain"
)

// Store holds the current token set per session key.
type Store interface {
	// Get returns the token set for sessionKey, or (nil, nil) when none is stored.
	Get(ctx context.Context, sessionKey string) (*domain.TokenSet, error)
	// Set replaces the token set for sessionKey. A nil set clears the key.
	Set(ctx context.Context, sessionKey string, ts *domain.TokenSet) error
}

// Notifier receives authentication state transitions. Implementations must not block for long.
type Notifier interface {
	// OnAuthStateChanged fires when a session becomes authenticated or unauthenticated.
	OnAuthStateChanged(sessionKey string, authenticated bool)
	// OnAuthExpired fires once when a session loses authentication it could not recover.
	OnAuthExpired(sessionID string)
}
