package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"infractl/client/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// Async runs emits in goroutines so session state transitions never wait on a sink.
// Wait blocks until every started emit has finished; call it before shutting down providers.
type Async struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsync returns an Async that logs emit failures to logger (slog.Default() when nil).
func NewAsync(logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{logger: logger}
}

// Emit runs emitter.Emit in a goroutine with emitTimeout. emitter and event may be nil; nothing is started then.
// The goroutine uses context.Background() so a cancelled caller context does not abort the emit.
func (a *Async) Emit(emitter EventEmitter, event *domain.AuthEvent) {
	if emitter == nil || event == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			a.logger.Warn("telemetry: async emit failed", "event_type", event.EventType, "error", err)
		}
	}()
}

// Wait blocks until all started emits have returned.
func (a *Async) Wait() {
	a.wg.Wait()
}
