// Package engine decides whether a command may be sent for a set of roles.
package engine

import "context"

// Guard authorizes commands before they leave the client.
type Guard interface {
	// Allow reports whether a session holding roles may send command.
	Allow(ctx context.Context, command string, roles []string) (bool, error)
}
