package limits

import (
	"context"
	"time"
)

// supervise restarts lost subscriptions every interval until ctx ends.
func (m *Manager) supervise(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Recover(); n > 0 {
				m.logger.Info("restarted lost limit watches", "count", n)
			}
		}
	}
}

// Recover restarts every lost subscription and returns how many it started.
// A restarted subscription re-reads its node while re-registering.
func (m *Manager) Recover() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	recovered := 0
	for _, sub := range m.subs {
		if sub.State() != StateLost {
			continue
		}
		if sub.start(m.ctx, &m.wg) {
			sub.logger.Info("restarting lost limit watch")
			recovered++
		}
	}
	return recovered
}
