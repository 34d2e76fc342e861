package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

const ioTimeout = 5 * time.Second

// recordConn is an in-memory net.Conn that records written frames.
type recordConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	broken bool
	closed bool
}

func (c *recordConn) Read(_ []byte) (int, error) { return 0, io.EOF }
func (c *recordConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.closed {
		return 0, errors.New("write: broken pipe")
	}
	return c.buf.Write(p)
}
func (c *recordConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
func (c *recordConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *recordConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *recordConn) SetDeadline(_ time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(_ time.Time) error { return nil }

func (c *recordConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messages decrypts every frame written so far.
func (c *recordConn) messages(t *testing.T, gw *crypto.Gateway) []string {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	r := bytes.NewReader(data)
	var out []string
	for {
		frame, err := protocol.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		msg, err := gw.DecryptString(frame)
		require.NoError(t, err)
		out = append(out, msg)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.HandshakeTimeout = ioTimeout
	cfg.WriteTimeout = 2 * time.Second
	cfg.BroadcastWorkers = 8
	return cfg
}

// newUnitServer builds a server that is never Run, for driving sessions over
// recordConns directly.
func newUnitServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(testConfig(), Dependencies{BanStore: store.NewMemory()})
	require.NoError(t, err)
	t.Cleanup(srv.pool.Release)
	return srv
}

// addUnitSession registers a session backed by a recordConn.
func addUnitSession(t *testing.T, srv *Server, name string, role model.Role) (*Session, *recordConn) {
	t.Helper()
	conn := &recordConn{}
	sess := newSession(conn, name, role, srv.gateway, 0)
	require.NoError(t, srv.registry.Add(sess))
	return sess, conn
}

// clientGateway opens server tokens the way a client would.
func clientGateway(t *testing.T, srv *Server) *crypto.Gateway {
	t.Helper()
	gw, err := crypto.NewGateway(srv.Key(), crypto.MethodChaCha20Poly1305)
	require.NoError(t, err)
	return gw
}

// harness runs a real server on a loopback port.
type harness struct {
	t    *testing.T
	srv  *Server
	bans *store.MemoryStore
	done chan error

	waitOnce sync.Once
	runErr   error
}

func startServer(t *testing.T, mutate func(cfg *Config), deps Dependencies) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	bans := store.NewMemory()
	if deps.BanStore == nil {
		deps.BanStore = bans
	}
	srv, err := New(cfg, deps)
	require.NoError(t, err)

	h := &harness{t: t, srv: srv, bans: bans, done: make(chan error, 1)}
	go func() { h.done <- srv.Run(context.Background()) }()

	select {
	case <-srv.Ready():
	case err := <-h.done:
		t.Fatalf("server exited before listening: %v", err)
	case <-time.After(ioTimeout):
		t.Fatal("server did not start listening")
	}

	t.Cleanup(func() {
		srv.Shutdown()
		_ = h.wait()
	})
	return h
}

// wait returns Run's result, failing the test if it does not return.
func (h *harness) wait() error {
	h.waitOnce.Do(func() {
		select {
		case h.runErr = <-h.done:
		case <-time.After(2 * ioTimeout):
			h.t.Error("Run did not return")
		}
	})
	return h.runErr
}

func (h *harness) addr() string {
	return h.srv.Addr().String()
}

// peer is a raw protocol client.
type peer struct {
	t    *testing.T
	conn net.Conn
	gw   *crypto.Gateway
}

func (h *harness) dial() *peer {
	h.t.Helper()
	conn, err := net.DialTimeout("tcp", h.addr(), ioTimeout)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: h.t, conn: conn, gw: clientGateway(h.t, h.srv)}
}

// join completes a successful handshake as name.
func (h *harness) join(name, password string) *peer {
	h.t.Helper()
	p := h.dial()
	if h.srv.cfg.KeyHandoff {
		require.Equal(h.t, crypto.EncodeKey(h.srv.Key()), p.token())
	}
	require.Equal(h.t, protocol.TokenName, p.token())
	p.sendToken(name)
	if name == h.srv.cfg.AdminName {
		require.Equal(h.t, protocol.TokenPassword, p.token())
		p.sendToken(password)
		require.Equal(h.t, protocol.WelcomeAdmin, p.token())
	}
	require.Equal(h.t, protocol.Connected, p.token())
	return p
}

// token reads one plaintext handshake frame.
func (p *peer) token() string {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	s, err := protocol.ReadString(p.conn)
	require.NoError(p.t, err)
	return s
}

func (p *peer) sendToken(s string) {
	p.t.Helper()
	require.NoError(p.t, protocol.WriteString(p.conn, s))
}

// send encrypts and sends one application message.
func (p *peer) send(text string) {
	p.t.Helper()
	token, err := p.gw.EncryptString(text)
	require.NoError(p.t, err)
	require.NoError(p.t, protocol.WriteFrame(p.conn, token))
}

// recv reads and decrypts one application message.
func (p *peer) recv() string {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	frame, err := protocol.ReadFrame(p.conn)
	require.NoError(p.t, err)
	msg, err := p.gw.DecryptString(frame)
	require.NoError(p.t, err)
	return msg
}

// expectClosed asserts the server closes the connection without sending
// anything further.
func (p *peer) expectClosed() {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	_, err := protocol.ReadFrame(p.conn)
	require.Error(p.t, err)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		p.t.Fatalf("connection still open after %s", ioTimeout)
	}
}

// expectSilence asserts nothing arrives within d.
func (p *peer) expectSilence(d time.Duration) {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(d))
	frame, err := protocol.ReadFrame(p.conn)
	if err == nil {
		msg, _ := p.gw.DecryptString(frame)
		p.t.Fatalf("expected silence, got %q", msg)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		p.t.Fatalf("expected read timeout, got %v", err)
	}
}

func tlsDial(addr string) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: ioTimeout},
		Config:    &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}, //nolint:gosec // self-signed test server
	}
	return d.DialContext(context.Background(), "tcp", addr)
}
