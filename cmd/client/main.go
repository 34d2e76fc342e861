package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/client"
	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	settingsPath := flag.String("settings", client.SettingsPath(), "Settings file")
	defaults := client.DefaultSettings()

	addr := flag.String("addr", defaults.Addr, "Server address")
	name := flag.String("name", "", "Display name")
	password := flag.String("password", "", "Admin password, sent only when the server asks")
	key := flag.String("key", "", "Shared key, needed when the server does not hand it off")
	lang := flag.String("lang", "", "Language passed to the translator; the built-in translator leaves text unchanged")
	useTLS := flag.Bool("tls", false, "Connect over TLS")
	insecure := flag.Bool("insecure", false, "Accept self-signed server certificates")
	cipher := flag.String("cipher", crypto.MethodChaCha20Poly1305.String(), "Token cipher: chacha20poly1305 or aes256gcm")
	save := flag.Bool("save", false, "Save addr, name, lang, key and tls as defaults")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Saved settings fill in whatever was not given on the command line.
	s := client.LoadSettings(*settingsPath)
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["addr"] {
		*addr = s.Addr
	}
	if !set["name"] {
		*name = s.Name
	}
	if !set["key"] {
		*key = s.Key
	}
	if !set["lang"] {
		*lang = s.Lang
	}
	if !set["tls"] {
		*useTLS = s.TLS
	}

	if *showVersion {
		fmt.Println("gorelay-client", version.Full())
		return nil
	}

	// Default to "warn" so logs do not interleave with chat; override with
	// GORELAY_LOG_LEVEL env var (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("GORELAY_LOG_LEVEL"); v != "" {
		level = v
	}
	if _, err := logging.Setup(logging.Options{Level: level, Output: os.Stderr}); err != nil {
		return err
	}

	if *name == "" {
		return errors.New("a display name is required (-name)")
	}
	method, err := crypto.ParseMethod(*cipher)
	if err != nil {
		return err
	}
	opts := client.Options{
		Addr:               *addr,
		Name:               *name,
		Password:           *password,
		Cipher:             method,
		TokenTTL:           crypto.DefaultTTL,
		TLS:                *useTLS,
		InsecureSkipVerify: *insecure,
	}
	if *key != "" {
		if opts.Key, err = crypto.DecodeKey(*key); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	}

	if *save {
		s.Addr, s.Name, s.Lang, s.Key, s.TLS = *addr, *name, *lang, *key, *useTLS
		if err := s.Save(*settingsPath); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	c, err := client.Dial(dialCtx, opts)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Admin() {
		fmt.Println("Connected as admin. Commands: /kick NAME, /ban NAME, /shutdown")
	} else {
		fmt.Println("Connected. Type a message and press Enter.")
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Listen(ctx, client.Identity{}, *lang, func(msg string) {
			fmt.Println(msg)
		})
	}()

	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			line := in.Text()
			if line == "" {
				continue
			}
			wire, err := client.ParseInput(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "unknown command; try /kick NAME, /ban NAME or /shutdown")
				continue
			}
			if err := c.Send(wire); err != nil {
				slog.Warn("send failed", "err", err)
				stop()
				return
			}
		}
		// EOF on stdin ends the session.
		stop()
	}()

	err = <-done
	fmt.Println("Disconnected.")
	return err
}
