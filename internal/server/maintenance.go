package server

import (
	"context"
	"time"
)

// StartMaintenance prunes expired sessions and idle login-throttle entries
// every interval until ctx is cancelled.
func (s *Server) StartMaintenance(ctx context.Context, interval time.Duration) {
	logger := s.logger.With("component", "maintenance")
	s.rateLimiter.StartCleanup(ctx, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.sessionStore.DeleteExpired()
				if err != nil {
					logger.Error("delete expired sessions", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("deleted expired sessions", "count", n)
				}
			}
		}
	}()
}
