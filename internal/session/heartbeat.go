package session

import (
	"time"

	"infractl/client/internal/clienterr"
)

// StartHeartBeat schedules a keep-alive at access expiry minus the heartbeat lead, cancelling any
// pending one first. Without a token set it only cancels.
func (m *Manager) StartHeartBeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startHeartbeatLocked()
}

// StopHeartBeat cancels the pending keep-alive, if any.
func (m *Manager) StopHeartBeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopHeartbeatLocked()
}

// HeartbeatActive reports whether a keep-alive is scheduled.
func (m *Manager) HeartbeatActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *Manager) heartbeatDelay() time.Duration {
	d := m.tokens.AccessExpiresAt.Sub(m.nowFunc()) - m.lead
	if d < m.minInterval {
		d = m.minInterval
	}
	return d
}

// startHeartbeatLocked requires m.mu.
func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	if m.tokens == nil || m.released {
		return
	}
	gen := m.timerGen
	m.timer = time.AfterFunc(m.heartbeatDelay(), func() { m.onHeartbeat(gen) })
}

// stopHeartbeatLocked requires m.mu. Bumping the generation disarms a callback that already fired.
func (m *Manager) stopHeartbeatLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) onHeartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.released {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()
	m.keepAlive()
}

// keepAlive prefers a set another session already wrote to the store and refreshes only when there is none.
// Adopting either set re-arms the heartbeat. A rejected refresh expires the session; one that timed out
// is retried after the minimum interval.
func (m *Manager) keepAlive() {
	ctx := m.ctx
	adopted, err := m.SyncFromStore(ctx)
	if err != nil {
		m.logger.Warn("session: heartbeat store sync failed", "error", err)
	}
	if adopted {
		return
	}
	if err := m.RefreshToken(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		if clienterr.Canceled(err) {
			m.logger.Warn("session: heartbeat refresh timed out, retrying", "error", err)
			m.StartHeartBeat()
			return
		}
		m.logger.Warn("session: heartbeat refresh failed", "error", err)
		m.OnValidationExpired()
	}
}
