package server

import (
	"log/slog"
	"sync"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// Broadcast sends msg to every registered session except excluding (which may
// be nil). Each recipient gets its own token. Sends run concurrently on the
// broadcast pool and are independent: one slow or dead peer does not stop the
// others. Recipients whose send failed are removed once the scan is over, and
// a departure notice for each is broadcast to the rest.
func (s *Server) Broadcast(msg string, excluding *Session) {
	var (
		mu     sync.Mutex
		failed []*Session
		wg     sync.WaitGroup
	)

	s.registry.Fanout(excluding, func(rcpt *Session) {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := rcpt.Send(msg); err != nil {
				s.metrics.SendFailures.Add(1)
				slog.Debug("broadcast send failed", "user", rcpt.Name(), "session", rcpt.ID, "err", err)
				mu.Lock()
				failed = append(failed, rcpt)
				mu.Unlock()
				return
			}
			s.metrics.FramesSent.Add(1)
		}
		if err := s.pool.Submit(task); err != nil {
			// Pool released during shutdown.
			task()
		}
	}, wg.Wait)

	s.prune(failed)
}

// prune removes sessions whose sends failed and announces each one that this
// call actually removed.
func (s *Server) prune(failed []*Session) {
	var departed []*Session
	for _, sess := range failed {
		if s.registry.Remove(sess) {
			departed = append(departed, sess)
		}
		_ = sess.Close()
	}
	for _, sess := range departed {
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client pruned after failed send", "user", sess.Name(), "session", sess.ID)
		s.Broadcast(protocol.LeftNotice(sess.Name()), nil)
	}
}
