package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsRegistry exposes the atomic counters and the registry size on a
// private Prometheus registry. Collection reads the atomics directly.
func (s *Server) newMetricsRegistry() *prometheus.Registry {
	m := s.metrics
	reg := prometheus.NewRegistry()

	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gorelay",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gorelay",
			Name:      name,
			Help:      help,
		}, fn)
	}

	reg.MustRegister(
		gauge("uptime_seconds", "Server uptime in seconds.",
			func() float64 { return time.Since(m.startTime).Seconds() }),
		gauge("sessions_online", "Registered sessions.",
			func() float64 { return float64(s.registry.Count()) }),
		gauge("connections_active", "Open TCP connections, including handshakes in progress.",
			func() float64 { return float64(m.ActiveConnections.Load()) }),

		counter("connections_total", "Lifetime TCP connections accepted.", &m.TotalConnections),
		counter("handshake_rejects_total", "Handshakes refused (banned, invalid, taken, bad password).", &m.HandshakeRejects),
		counter("handshake_failures_total", "Handshakes abandoned by the peer or timed out.", &m.HandshakeFailures),
		counter("joins_total", "Sessions registered.", &m.SuccessfulJoins),
		counter("disconnects_total", "Registered sessions that ended.", &m.TotalDisconnects),
		counter("accept_errors_total", "Transient accept failures.", &m.AcceptErrors),
		counter("decryption_failures_total", "Inbound frames that failed to decrypt.", &m.DecryptionFailures),
		counter("chat_messages_total", "Chat lines accepted for broadcast.", &m.ChatMessagesRelayed),
		counter("messages_flagged_total", "Chat lines withheld by moderation.", &m.MessagesFlagged),
		counter("frames_sent_total", "Encrypted frames written.", &m.FramesSent),
		counter("send_failures_total", "Frames that failed to send.", &m.SendFailures),
		counter("kicks_total", "Sessions kicked.", &m.KickCount),
		counter("bans_total", "Names banned.", &m.BanCount),
		counter("commands_refused_total", "Privileged commands refused.", &m.CommandsRefused),
	)
	return reg
}

// metricsHandler serves /metrics and /healthz.
func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.newMetricsRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serveMetricsHTTP runs the metrics endpoint until ctx is done. It returns nil
// immediately when MetricsAddr is empty.
func (s *Server) serveMetricsHTTP(ctx context.Context) error {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("metrics HTTP listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// The relay keeps running without metrics.
		slog.Error("metrics HTTP error", "err", err)
	}
	return nil
}
