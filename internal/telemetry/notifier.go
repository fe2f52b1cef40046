// Package telemetry turns session auth transitions into events and fans them out to configured sinks.
package telemetry

import (
	"log/slog"
	"time"

	"infractl/client/internal/telemetry/domain"
)

// Notifier implements tokenstore.Notifier. Each transition is logged and emitted to every sink asynchronously.
type Notifier struct {
	source  string
	logger  *slog.Logger
	async   *Async
	sinks   []EventEmitter
	nowFunc func() time.Time
}

// NewNotifier returns a Notifier tagging events with source. Nil sinks are skipped.
func NewNotifier(source string, logger *slog.Logger, sinks ...EventEmitter) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		source:  source,
		logger:  logger,
		async:   NewAsync(logger),
		nowFunc: time.Now,
	}
	for _, s := range sinks {
		if s != nil {
			n.sinks = append(n.sinks, s)
		}
	}
	return n
}

// OnAuthStateChanged logs and emits an auth_state_changed event.
func (n *Notifier) OnAuthStateChanged(sessionKey string, authenticated bool) {
	n.logger.Info("auth state changed", "session_key", sessionKey, "authenticated", authenticated)
	n.publish(&domain.AuthEvent{
		EventType:     domain.EventAuthStateChanged,
		SessionKey:    sessionKey,
		Authenticated: authenticated,
	})
}

// OnAuthExpired logs and emits an auth_expired event.
func (n *Notifier) OnAuthExpired(sessionID string) {
	n.logger.Warn("authentication expired", "session_id", sessionID)
	n.publish(&domain.AuthEvent{
		EventType: domain.EventAuthExpired,
		SessionID: sessionID,
	})
}

// Flush waits for in-flight emits.
func (n *Notifier) Flush() {
	n.async.Wait()
}

func (n *Notifier) publish(event *domain.AuthEvent) {
	event.Source = n.source
	event.CreatedAt = n.nowFunc().UTC()
	for _, s := range n.sinks {
		n.async.Emit(s, event)
	}
}
