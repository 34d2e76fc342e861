package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// handshakeState is a step of the pre-registration exchange.
type handshakeState int

const (
	stateAwaitingName handshakeState = iota
	stateBanCheck
	stateAwaitingPassword
	stateRegistered
	stateClosed
)

func (st handshakeState) String() string {
	switch st {
	case stateAwaitingName:
		return "awaiting_name"
	case stateBanCheck:
		return "ban_check"
	case stateAwaitingPassword:
		return "awaiting_password"
	case stateRegistered:
		return "registered"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handshake walks a new connection through
//
//	AwaitingName -> BanCheck -> [AwaitingPassword] -> Registered
//
// and returns the registered session. Any rejection sends its token, moves
// to Closed and returns an error wrapping ErrHandshakeRejected; the caller
// closes the connection. No registry entry exists for a rejected connection.
func (s *Server) handshake(ctx context.Context, conn net.Conn) (*Session, error) {
	remote := conn.RemoteAddr().String()
	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}

	if s.cfg.KeyHandoff {
		if err := protocol.WriteString(conn, crypto.EncodeKey(s.key)); err != nil {
			return nil, fmt.Errorf("%w: send key: %w", ErrPeerDisconnected, err)
		}
	}

	var (
		state = stateAwaitingName
		name  string
		role  = model.RoleRegular
	)
	reject := func(token, reason string) error {
		state = stateClosed
		s.metrics.HandshakeRejects.Add(1)
		_ = protocol.WriteString(conn, token)
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, reason)
	}

	for {
		slog.Debug("handshake step", "remote", remote, "state", state)

		switch state {
		case stateAwaitingName:
			if err := protocol.WriteString(conn, protocol.TokenName); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
			}
			got, err := readHandshakeFrame(conn)
			if err != nil {
				return nil, err
			}
			if err := model.ValidateName(got); err != nil {
				return nil, reject(protocol.TokenInvalid, err.Error())
			}
			name = got
			state = stateBanCheck

		case stateBanCheck:
			banned, err := s.bans.IsBanned(ctx, name)
			if err != nil {
				// Fail closed: an unreadable ban list admits nobody.
				return nil, fmt.Errorf("server: ban check for %q: %w", name, err)
			}
			if banned {
				return nil, reject(protocol.TokenBan, "banned name "+name)
			}
			if _, taken := s.registry.FindByName(name); taken {
				return nil, reject(protocol.TokenTaken, "name in use "+name)
			}
			if name == s.cfg.AdminName {
				state = stateAwaitingPassword
			} else {
				state = stateRegistered
			}

		case stateAwaitingPassword:
			if err := protocol.WriteString(conn, protocol.TokenPassword); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
			}
			password, err := readHandshakeFrame(conn)
			if err != nil {
				return nil, err
			}
			if !s.auth.Verify(ctx, name, password) {
				return nil, reject(protocol.IncorrectPassword, "incorrect admin password")
			}
			if err := protocol.WriteString(conn, protocol.WelcomeAdmin); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
			}
			role = model.RoleAdmin
			state = stateRegistered

		case stateRegistered:
			_ = conn.SetDeadline(time.Time{})
			return s.register(conn, name, role)

		default:
			return nil, fmt.Errorf("server: handshake in state %s", state)
		}
	}
}

// register adds the session to the registry and completes the handshake.
// The session's write lock is held from the insert until "Connected to the
// server" is written, so no broadcast can reach the client ahead of it.
func (s *Server) register(conn net.Conn, name string, role model.Role) (*Session, error) {
	sess := newSession(conn, name, role, s.gateway, s.cfg.WriteTimeout)

	sess.mu.Lock()
	if err := s.registry.Add(sess); err != nil {
		sess.mu.Unlock()
		s.metrics.HandshakeRejects.Add(1)
		_ = protocol.WriteString(conn, protocol.TokenTaken)
		return nil, fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
	}
	if s.ctx.Err() != nil {
		// Shutdown drained the registry while this handshake was running.
		sess.mu.Unlock()
		s.registry.Remove(sess)
		return nil, fmt.Errorf("%w: server shutting down", ErrHandshakeRejected)
	}
	err := sess.sendPlainLocked(protocol.Connected)
	sess.mu.Unlock()
	if err != nil {
		s.registry.Remove(sess)
		return nil, fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
	}

	s.metrics.SuccessfulJoins.Add(1)
	slog.Info("client joined", "user", name, "role", role, "session", sess.ID, "remote", sess.Remote())
	s.Broadcast(protocol.JoinedNotice(name), sess)
	return sess, nil
}

func readHandshakeFrame(conn net.Conn) (string, error) {
	got, err := protocol.ReadString(conn)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
	}
	return got, nil
}
