package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections   atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections  atomic.Int64 // connections currently open
	HandshakeRejects   atomic.Int64 // banned, invalid, taken or wrong password
	HandshakeFailures  atomic.Int64 // peer vanished or timed out mid-handshake
	SuccessfulJoins    atomic.Int64 // sessions registered
	TotalDisconnects   atomic.Int64 // registered sessions that ended
	AcceptErrors       atomic.Int64 // transient accept failures
	DecryptionFailures atomic.Int64 // frames that failed to open

	// Chat counters
	ChatMessagesRelayed atomic.Int64 // chat lines accepted for broadcast
	MessagesFlagged     atomic.Int64 // chat lines withheld by moderation
	FramesSent          atomic.Int64 // encrypted frames written
	SendFailures        atomic.Int64 // frames that failed, pruning the recipient

	// Admin counters
	KickCount       atomic.Int64
	BanCount        atomic.Int64
	CommandsRefused atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections  int64 `json:"active_connections"`
	TotalConnections   int64 `json:"total_connections"`
	HandshakeRejects   int64 `json:"handshake_rejects"`
	HandshakeFailures  int64 `json:"handshake_failures"`
	SuccessfulJoins    int64 `json:"successful_joins"`
	TotalDisconnects   int64 `json:"total_disconnects"`
	AcceptErrors       int64 `json:"accept_errors"`
	DecryptionFailures int64 `json:"decryption_failures"`

	ChatMessagesRelayed int64 `json:"chat_messages_relayed"`
	MessagesFlagged     int64 `json:"messages_flagged"`
	FramesSent          int64 `json:"frames_sent"`
	SendFailures        int64 `json:"send_failures"`

	KickCount       int64 `json:"kick_count"`
	BanCount        int64 `json:"ban_count"`
	CommandsRefused int64 `json:"commands_refused"`
}

// Snapshot returns a snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		HandshakeRejects:    m.HandshakeRejects.Load(),
		HandshakeFailures:   m.HandshakeFailures.Load(),
		SuccessfulJoins:     m.SuccessfulJoins.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		AcceptErrors:        m.AcceptErrors.Load(),
		DecryptionFailures:  m.DecryptionFailures.Load(),
		ChatMessagesRelayed: m.ChatMessagesRelayed.Load(),
		MessagesFlagged:     m.MessagesFlagged.Load(),
		FramesSent:          m.FramesSent.Load(),
		SendFailures:        m.SendFailures.Load(),
		KickCount:           m.KickCount.Load(),
		BanCount:            m.BanCount.Load(),
		CommandsRefused:     m.CommandsRefused.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary(online int) {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"online", online,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"chat_msgs", s.ChatMessagesRelayed,
		"flagged", s.MessagesFlagged,
		"send_failures", s.SendFailures,
	)
}

// RunPeriodicLog logs a summary every interval until ctx is done.
func (m *Metrics) RunPeriodicLog(ctx context.Context, interval time.Duration, online func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.LogSummary(online())
		}
	}
}
