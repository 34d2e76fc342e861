package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// acceptBackoff bounds the pause after a transient accept error.
const acceptBackoff = time.Second

// listen binds the configured address, wrapping it in TLS when enabled.
func (s *Server) listen() (net.Listener, error) {
	tlsCfg, err := tlsConfig(s.cfg)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ctx.Err() != nil {
		_ = ln.Close()
		return nil, errors.New("server: shut down before listening")
	}
	s.ln = ln
	close(s.ready)
	return ln, nil
}

// acceptLoop accepts connections until the listener is closed, handing each
// to its own goroutine. Accept errors are logged and retried.
func (s *Server) acceptLoop(ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.metrics.AcceptErrors.Add(1)
			delay = min(max(2*delay, 5*time.Millisecond), acceptBackoff)
			slog.Error("accept error", "err", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.conns.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn owns conn for its whole life: handshake, read loop, departure.
func (s *Server) serveConn(conn net.Conn) {
	defer s.conns.Done()

	remote := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", remote)

	sess, err := s.handshake(s.ctx, conn)
	if err != nil {
		_ = conn.Close()
		switch {
		case errors.Is(err, ErrHandshakeRejected):
			slog.Info("handshake rejected", "remote", remote, "err", err)
		case errors.Is(err, ErrPeerDisconnected):
			s.metrics.HandshakeFailures.Add(1)
			slog.Debug("handshake abandoned", "remote", remote, "err", err)
		default:
			s.metrics.HandshakeFailures.Add(1)
			slog.Error("handshake failed", "remote", remote, "err", err)
		}
		return
	}
	defer s.depart(sess)

	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) || sess.Closed() {
				slog.Debug("connection closed", "user", sess.Name(), "session", sess.ID)
			} else {
				slog.Warn("read error", "user", sess.Name(), "session", sess.ID, "err", err)
			}
			return
		}

		text, err := s.gateway.DecryptString(frame)
		if err != nil {
			s.metrics.DecryptionFailures.Add(1)
			if s.cfg.DropOnDecryptError {
				slog.Warn("dropping session after undecryptable frame", "user", sess.Name(), "session", sess.ID, "err", err)
				return
			}
			slog.Debug("undecryptable frame", "user", sess.Name(), "session", sess.ID, "err", err)
			if err := sess.Send(protocol.DecryptFailed); err != nil {
				return
			}
			continue
		}

		if stop := s.dispatch(s.ctx, sess, model.ParseCommand(text)); stop {
			return
		}
	}
}

// depart closes sess and, if this call is the one that unregistered it,
// announces the departure to everyone left.
func (s *Server) depart(sess *Session) {
	removed := s.registry.Remove(sess)
	_ = sess.Close()
	if !removed {
		// Kicked, banned, pruned or drained: whoever removed it has announced it.
		return
	}
	s.metrics.TotalDisconnects.Add(1)
	slog.Info("client disconnected", "user", sess.Name(), "session", sess.ID)
	s.Broadcast(protocol.LeftNotice(sess.Name()), nil)
}

// isClosedErr reports errors caused by our own Close racing a Read.
func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// closeListener stops accepting. Safe to call more than once.
func (s *Server) closeListener() {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

// waitForConns blocks until every connection handler has returned or ctx ends.
func (s *Server) waitForConns(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
