package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("server: session closed")

// Session is one registered participant. The connection is read only by the
// session's own handler goroutine; writes from any goroutine go through Send
// and are serialised by mu.
type Session struct {
	ID     string
	name   string
	role   model.Role
	remote string

	conn         net.Conn
	gateway      *crypto.Gateway
	writeTimeout time.Duration

	mu     sync.Mutex // serialises frames on conn
	closed atomic.Bool
}

func newSession(conn net.Conn, name string, role model.Role, gw *crypto.Gateway, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.NewString(),
		name:         name,
		role:         role,
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		gateway:      gw,
		writeTimeout: writeTimeout,
	}
}

// Name returns the display name, unique among registered sessions.
func (s *Session) Name() string { return s.name }

// Role returns the role granted at handshake.
func (s *Session) Role() model.Role { return s.role }

// Remote returns the peer address.
func (s *Session) Remote() string { return s.remote }

// Send encrypts text under a fresh token and writes it as one frame.
func (s *Session) Send(text string) error {
	token, err := s.gateway.EncryptString(text)
	if err != nil {
		return fmt.Errorf("server: encrypt for %s: %w", s.name, err)
	}
	return s.writeFrame(token)
}

// sendPlainLocked writes an unencrypted handshake token. The caller holds mu.
func (s *Session) sendPlainLocked(text string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.setWriteDeadline()
	return protocol.WriteString(s.conn, text)
}

func (s *Session) writeFrame(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.setWriteDeadline()
	return protocol.WriteFrame(s.conn, payload)
}

func (s *Session) setWriteDeadline() {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
}

// Close closes the connection once. It does not wait for an in-flight Send;
// closing the connection unblocks it.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
