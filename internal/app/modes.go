package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"switchboard/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

// runServer runs switchboard until ctx is cancelled.
//
// Startup:
//   - initializes the event bus (a failure here is fatal)
//   - starts the manifest watcher when plugins.watch is set
//   - brings back instances recorded as running
//   - serves HTTP and runs health checks
//
// The first fatal error cancels everything else. Shutdown always runs.
func runServer(ctx context.Context, s *Services) error {
	defer s.shutdown()

	if err := s.Bus.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.Config.Plugins.Watch {
		if err := s.Catalog.Watch(gctx); err != nil {
			logging.Warn("CLI", "Manifest hot reload disabled: %v", err)
		}
	}

	g.Go(func() error {
		return s.Server.Run(gctx)
	})
	g.Go(func() error {
		if err := s.Runtime.StartAll(gctx); err != nil {
			logging.Error("CLI", err, "Failed to restore running plugins")
		}
		return nil
	})
	if interval := s.Config.Plugins.HealthCheckInterval; interval > 0 {
		g.Go(func() error {
			s.Runtime.RunHealthChecks(gctx, interval)
			return nil
		})
	}

	logging.Info("CLI", "switchboard node %s is up on %s", s.NodeID, s.Config.Server.Addr())
	return g.Wait()
}

// shutdown tears components down in reverse dependency order.
func (s *Services) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logging.Info("CLI", "--- Shutting down ---")
	if err := s.Relay.Shutdown(ctx); err != nil {
		logging.Error("CLI", err, "Error disconnecting relay clients")
	}
	if err := s.Runtime.Shutdown(ctx); err != nil {
		logging.Error("CLI", err, "Error closing plugin clients")
	}
	if err := s.Bus.Shutdown(ctx); err != nil {
		logging.Error("CLI", err, "Error shutting down event bus")
	}
	s.close()
}
