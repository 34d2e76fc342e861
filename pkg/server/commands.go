package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/rbac"
)

// dispatch acts on one decoded application message from sess. It reports
// whether the sender's read loop should stop.
func (s *Server) dispatch(ctx context.Context, sess *Session, cmd model.Command) bool {
	switch cmd.Kind {
	case model.CommandKick, model.CommandBan:
		s.handleRemoval(ctx, sess, cmd)
	case model.CommandShutdown:
		if err := s.authorize(sess, cmd); err != nil {
			s.refuse(sess, cmd, err)
			return false
		}
		slog.Info("shutdown requested", "user", sess.Name(), "session", sess.ID)
		s.Shutdown()
		return true
	case model.CommandMalformed:
		s.reply(sess, protocol.MalformedNotice(cmd.Text))
	default:
		s.handleChat(ctx, sess, cmd.Text)
	}
	return false
}

// authorize checks the sender's role for cmd, and for KICK/BAN that the
// target is someone else who is online.
func (s *Server) authorize(sess *Session, cmd model.Command) error {
	perm, privileged := cmd.Permission()
	if !privileged {
		return nil
	}
	if !rbac.HasPermission(sess.Role(), perm) {
		return fmt.Errorf("%w: %s lacks %s permission", ErrCommandRefused, sess.Role(), rbac.PermName(perm))
	}
	if cmd.Kind == model.CommandShutdown {
		return nil
	}
	if cmd.Target == sess.Name() {
		return fmt.Errorf("%w: cannot %s yourself", ErrCommandRefused, rbac.PermName(perm))
	}
	if _, ok := s.registry.FindByName(cmd.Target); !ok {
		return fmt.Errorf("%w: %q is not online", ErrCommandRefused, cmd.Target)
	}
	return nil
}

// handleRemoval kicks or bans cmd.Target on behalf of sess.
func (s *Server) handleRemoval(ctx context.Context, sess *Session, cmd model.Command) {
	if err := s.authorize(sess, cmd); err != nil {
		s.refuse(sess, cmd, err)
		return
	}
	target, ok := s.registry.FindByName(cmd.Target)
	// Lost a race with the target's own departure, or another removal.
	if !ok || !s.registry.Remove(target) {
		s.refuse(sess, cmd, fmt.Errorf("%w: %q already left", ErrCommandRefused, cmd.Target))
		return
	}

	notice, announce := protocol.KickedNotice, protocol.KickedBroadcast(target.Name())
	if cmd.Kind == model.CommandBan {
		notice, announce = protocol.BannedNotice, protocol.BannedBroadcast(target.Name())
		ban := model.Ban{Name: target.Name(), BannedBy: sess.Name(), CreatedAt: time.Now().UTC()}
		if err := s.bans.Add(ctx, ban); err != nil {
			// The target is still removed; only persistence failed.
			slog.Error("persist ban", "target", target.Name(), "err", err)
		}
		s.metrics.BanCount.Add(1)
	} else {
		s.metrics.KickCount.Add(1)
	}

	_ = target.Send(notice)
	_ = target.Close()
	s.metrics.TotalDisconnects.Add(1)
	slog.Info("client removed", "command", cmd.Kind, "target", target.Name(), "by", sess.Name(), "session", target.ID)

	s.Broadcast(announce, nil)
}

// handleChat runs text through moderation and relays it to everyone else.
func (s *Server) handleChat(ctx context.Context, sess *Session, text string) {
	flagged, err := s.classifier.Classify(ctx, text)
	if err != nil {
		// Moderation is advisory; an unavailable classifier does not block chat.
		slog.Warn("moderation unavailable", "user", sess.Name(), "err", err)
		flagged = false
	}
	if flagged {
		s.metrics.MessagesFlagged.Add(1)
		slog.Info("message flagged", "user", sess.Name(), "session", sess.ID)
		s.reply(sess, protocol.MessageFlagged)
		return
	}

	s.metrics.ChatMessagesRelayed.Add(1)
	s.Broadcast(protocol.ChatLine(sess.Name(), text), sess)
}

func (s *Server) refuse(sess *Session, cmd model.Command, reason error) {
	s.metrics.CommandsRefused.Add(1)
	slog.Info("command refused", "user", sess.Name(), "command", cmd.Kind, "target", cmd.Target, "err", reason)
	s.reply(sess, protocol.CommandRefused)
}

// reply sends a private notice to sess. A failed reply is left for the
// session's own read loop to notice.
func (s *Server) reply(sess *Session, text string) {
	if err := sess.Send(text); err != nil {
		slog.Debug("reply failed", "user", sess.Name(), "session", sess.ID, "err", err)
		return
	}
	s.metrics.FramesSent.Add(1)
}
