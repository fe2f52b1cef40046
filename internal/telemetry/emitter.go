package telemetry

import (
	"context"

	"infractl/client/internal/telemetry/domain"
)

// EventEmitter emits auth events (e.g. to OTel Logs, Kafka, Loki). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.AuthEvent) error
}
