// Package domain defines the auth events a session publishes to its telemetry sinks.
package domain

import "time"

// Auth event types.
const (
	EventAuthStateChanged = "auth_state_changed"
	EventAuthExpired      = "auth_expired"
)

// AuthEvent records an authentication state transition of one session.
type AuthEvent struct {
	EventType     string    `json:"eventType"`
	SessionKey    string    `json:"sessionKey,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	Authenticated bool      `json:"authenticated"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"createdAt"`
}
