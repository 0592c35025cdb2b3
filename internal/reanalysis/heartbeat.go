package reanalysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reelforge/internal/logging"
)

// heartbeatLoop refreshes the job heartbeat until ctx ends.
func (m *Manager) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
					continue
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
