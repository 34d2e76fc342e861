package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/moderation"
	"github.com/NicolasHaas/gorelay/pkg/server"
	"github.com/NicolasHaas/gorelay/pkg/store"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML or TOML config file (flags override it)")
	sharedKey := flag.String("shared-key", "", "base64url cipher key to reuse (generated if empty)")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "TCP bind address")
	flag.StringVar(&cfg.AdminName, "admin", cfg.AdminName, "Admin display name")
	flag.StringVar(&cfg.AdminPassword, "admin-password", cfg.AdminPassword, "Admin password")
	flag.StringVar(&cfg.BanStore, "bans", cfg.BanStore, "Ban store: file:PATH, sqlite:PATH, redis://HOST:PORT/DB or memory:")
	flag.StringVar(&cfg.Cipher, "cipher", cfg.Cipher, "Token cipher: chacha20poly1305 or aes256gcm")
	flag.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Maximum token age (0 disables)")
	flag.BoolVar(&cfg.KeyHandoff, "key-handoff", cfg.KeyHandoff, "Send the cipher key to clients before NAME")
	flag.BoolVar(&cfg.TLS, "tls", cfg.TLS, "Serve over TLS")
	flag.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Deadline for completing the handshake")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-frame write deadline")
	flag.IntVar(&cfg.BroadcastWorkers, "workers", cfg.BroadcastWorkers, "Broadcast worker pool size")
	flag.BoolVar(&cfg.DropOnDecryptError, "drop-on-decrypt-error", cfg.DropOnDecryptError, "Disconnect clients that send undecryptable frames")
	flag.Float64Var(&cfg.ModerationThreshold, "moderation-threshold", cfg.ModerationThreshold, "Flag messages scoring above this")
	flag.StringVar(&cfg.ModerationWordlist, "moderation-wordlist", cfg.ModerationWordlist, "Word list file for moderation (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this file, rotated by size")
	flag.BoolVar(&cfg.ExportBans, "export-bans", false, "Export all bans as YAML and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gorelay-server", version.Full())
		return nil
	}

	if *configPath != "" {
		if err := server.LoadConfigFile(*configPath, &cfg); err != nil {
			return err
		}
		// Parse again so explicit flags win over the file.
		flag.Parse()
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bans, err := store.Open(ctx, cfg.BanStore)
	if err != nil {
		return fmt.Errorf("open ban store: %w", err)
	}

	// Handle export commands (run and exit)
	if cfg.ExportBans {
		defer bans.Close()
		data, err := server.ExportBansYAML(ctx, bans)
		if err != nil {
			return fmt.Errorf("export bans: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	deps := server.Dependencies{BanStore: bans}
	if *sharedKey != "" {
		if deps.Key, err = crypto.DecodeKey(*sharedKey); err != nil {
			_ = bans.Close()
			return fmt.Errorf("shared key: %w", err)
		}
	}
	if cfg.ModerationWordlist != "" {
		wl, err := moderation.LoadWordlist(cfg.ModerationWordlist)
		if err != nil {
			_ = bans.Close()
			return err
		}
		slog.Info("moderation enabled", "words", wl.Len(), "threshold", cfg.ModerationThreshold)
		deps.Classifier = moderation.NewThreshold(wl, cfg.ModerationThreshold)
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		_ = bans.Close()
		return err
	}
	slog.Info("starting gorelay server", "version", version.String(), "bans", cfg.BanStore)
	return srv.Run(ctx)
}
