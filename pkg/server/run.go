package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

const (
	metricsLogInterval = 60 * time.Second
	drainTimeout       = 5 * time.Second
)

// Run binds the listener and serves until SHUTDOWN is received from an admin,
// ctx is cancelled, or Shutdown is called. It then closes every session and
// the ban store and returns.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.bans.Close(); err != nil {
			slog.Warn("close ban store", "err", err)
		}
	}()
	defer s.pool.Release()

	ln, err := s.listen()
	if err != nil {
		s.cancel()
		return err
	}

	slog.Info("relay server running",
		"addr", ln.Addr().String(),
		"tls", s.cfg.TLS,
		"cipher", s.gateway.Method(),
		"key_handoff", s.cfg.KeyHandoff,
	)
	// Out-of-band distribution: operators hand this to clients.
	slog.Info("========================================")
	slog.Info("ENCRYPTION KEY (share with clients):", "key", crypto.EncodeKey(s.key))
	slog.Info("========================================")

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		return s.acceptLoop(ln)
	})
	g.Go(func() error {
		return s.serveMetricsHTTP(gctx)
	})
	g.Go(func() error {
		s.metrics.RunPeriodicLog(gctx, metricsLogInterval, s.registry.Count)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			slog.Info("shutting down...", "reason", context.Cause(ctx))
			s.Shutdown()
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	// The accept loop only returns once the listener is closed, so every
	// path through here has shut down.
	s.Shutdown()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	s.waitForConns(drainCtx)

	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("relay server stopped")
	return nil
}

// Shutdown tells every session the server is going away, closes all
// sessions, then stops the listener. Safe to call more than once and from a
// session's own goroutine.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()

		sessions := s.registry.Drain()
		var wg sync.WaitGroup
		for _, sess := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = sess.Send(protocol.ShuttingDown)
				_ = sess.Close()
			}()
		}
		wg.Wait()
		s.metrics.TotalDisconnects.Add(int64(len(sessions)))
		slog.Info("all sessions closed", "count", len(sessions))

		s.closeListener()
	})
}
