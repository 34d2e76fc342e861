// Package server implements the encrypted chat relay: handshake, session
// registry, command dispatch and broadcast.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/moderation"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

var (
	// ErrHandshakeRejected wraps every reason a connection is refused before
	// registration.
	ErrHandshakeRejected = errors.New("server: handshake rejected")

	// ErrPeerDisconnected is returned when the peer goes away mid-handshake.
	ErrPeerDisconnected = errors.New("server: peer disconnected")

	// ErrCommandRefused wraps every reason a privileged command is refused.
	ErrCommandRefused = errors.New("server: command refused")
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of BanStore and will Close() it on shutdown.
type Dependencies struct {
	BanStore      store.BanStore
	Classifier    moderation.Classifier // nil: nothing is flagged
	Authenticator Authenticator         // nil: static admin_name/admin_password
	Key           []byte                // nil: generated
}

// Server is the chat relay.
type Server struct {
	cfg        Config
	key        []byte
	gateway    *crypto.Gateway
	registry   *Registry
	bans       store.BanStore
	classifier moderation.Classifier
	auth       Authenticator
	metrics    *Metrics
	pool       *ants.Pool

	lnMu  sync.Mutex
	ln    net.Listener
	ready chan struct{}

	conns        sync.WaitGroup // connection handlers
	shutdownOnce sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.BanStore == nil {
		return nil, errors.New("server: missing ban store dependency")
	}

	method, err := crypto.ParseMethod(cfg.Cipher)
	if err != nil {
		return nil, err
	}
	key := deps.Key
	if key == nil {
		if key, err = crypto.GenerateKey(); err != nil {
			return nil, fmt.Errorf("server: generate key: %w", err)
		}
	}
	opts := []crypto.Option{crypto.WithTTL(cfg.TokenTTL)}
	if cfg.TokenTTL > 0 {
		opts = append(opts, crypto.WithReplayGuard())
	}
	gw, err := crypto.NewGateway(key, method, opts...)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	auth := deps.Authenticator
	if auth == nil {
		if auth, err = NewStaticAuthenticator(cfg.AdminName, cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("server: admin credentials: %w", err)
		}
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = moderation.Nop{}
	}

	pool, err := ants.NewPool(cfg.BroadcastWorkers, ants.WithPanicHandler(func(v any) {
		slog.Error("broadcast worker panicked", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("server: broadcast pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		key:        key,
		gateway:    gw,
		registry:   NewRegistry(),
		bans:       deps.BanStore,
		classifier: classifier,
		auth:       auth,
		metrics:    NewMetrics(),
		pool:       pool,
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Key returns the server-wide cipher key.
func (s *Server) Key() []byte {
	return append([]byte(nil), s.key...)
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Run has bound it.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Done is closed when the server begins shutting down.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}
