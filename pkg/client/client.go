// Package client implements the relay's terminal client networking.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// Handshake outcomes reported by the server.
var (
	ErrBanned            = errors.New("client: name is banned")
	ErrIncorrectPassword = errors.New("client: incorrect password")
	ErrNameTaken         = errors.New("client: name already in use")
	ErrInvalidName       = errors.New("client: invalid name")
	ErrNoKey             = errors.New("client: no key configured and none handed off")
	ErrKeyMismatch       = errors.New("client: handed-off key differs from configured key")
	ErrUnexpectedToken   = errors.New("client: unexpected handshake token")
)

// Options configures Dial.
type Options struct {
	Addr     string
	Name     string
	Password string // only sent when the server asks for it

	// Key is the shared key. When nil the server must hand it off in-band.
	Key      []byte
	Cipher   crypto.Method // default chacha20poly1305
	TokenTTL time.Duration // max age of accepted server tokens; 0 disables

	TLS                bool
	InsecureSkipVerify bool // accept self-signed server certificates
	DialTimeout        time.Duration
}

// Client is one registered connection to the relay.
type Client struct {
	conn    net.Conn
	gateway *crypto.Gateway
	name    string
	admin   bool

	mu sync.Mutex // serialises writes
}

// Dial connects to the relay and completes the handshake.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		conn net.Conn
		err  error
	)
	if opts.TLS {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config: &tls.Config{
				InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed servers
				MinVersion:         tls.VersionTLS13,
			},
		}
		conn, err = dialer.DialContext(ctx, "tcp", opts.Addr)
	} else {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err = dialer.DialContext(ctx, "tcp", opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	c, err := Handshake(ctx, conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Handshake runs the client side of the handshake on an open connection.
// A key handed off by the server before NAME is detected and used, or
// checked against opts.Key when both are present.
func Handshake(ctx context.Context, conn net.Conn, opts Options) (*Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	key := opts.Key
	first, err := protocol.ReadString(conn)
	if err != nil {
		return nil, fmt.Errorf("client: read handshake: %w", err)
	}
	if first != protocol.TokenName {
		handed, err := crypto.DecodeKey(first)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, first)
		}
		if key != nil && !bytes.Equal(key, handed) {
			return nil, ErrKeyMismatch
		}
		key = handed
		if first, err = protocol.ReadString(conn); err != nil {
			return nil, fmt.Errorf("client: read handshake: %w", err)
		}
		if first != protocol.TokenName {
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, first)
		}
	}
	if key == nil {
		return nil, ErrNoKey
	}

	method := opts.Cipher
	if method == 0 {
		method = crypto.MethodChaCha20Poly1305
	}
	gw, err := crypto.NewGateway(key, method, crypto.WithTTL(opts.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	if err := protocol.WriteString(conn, opts.Name); err != nil {
		return nil, fmt.Errorf("client: send name: %w", err)
	}

	admin := false
	for {
		token, err := protocol.ReadString(conn)
		if err != nil {
			return nil, fmt.Errorf("client: read handshake: %w", err)
		}
		switch token {
		case protocol.Connected:
			slog.Debug("connected", "name", opts.Name, "admin", admin)
			return &Client{conn: conn, gateway: gw, name: opts.Name, admin: admin}, nil
		case protocol.TokenPassword:
			if err := protocol.WriteString(conn, opts.Password); err != nil {
				return nil, fmt.Errorf("client: send password: %w", err)
			}
		case protocol.WelcomeAdmin:
			admin = true
		case protocol.IncorrectPassword:
			return nil, ErrIncorrectPassword
		case protocol.TokenBan:
			return nil, ErrBanned
		case protocol.TokenTaken:
			return nil, ErrNameTaken
		case protocol.TokenInvalid:
			return nil, ErrInvalidName
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, token)
		}
	}
}

// Name returns the registered display name.
func (c *Client) Name() string { return c.name }

// Admin reports whether the server granted admin privileges.
func (c *Client) Admin() bool { return c.admin }

// Send encrypts text and writes it as one frame.
func (c *Client) Send(text string) error {
	token, err := c.gateway.EncryptString(text)
	if err != nil {
		return fmt.Errorf("client: encrypt: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteFrame(c.conn, token)
}

// Receive blocks for the next message from the server. It returns io.EOF
// once the server closes the connection.
func (c *Client) Receive() (string, error) {
	frame, err := protocol.ReadFrame(c.conn)
	if err != nil {
		if errors.Is(err, io.EOF) || isClosedErr(err) {
			return "", io.EOF
		}
		return "", err
	}
	return c.gateway.DecryptString(frame)
}

// Listen calls fn for each message until the connection ends or ctx is
// done. Messages that fail to decrypt are logged and skipped. A translator,
// if non-nil, rewrites each message into lang first; a failed translation
// falls back to the original text.
func (c *Client) Listen(ctx context.Context, tr Translator, lang string, fn func(msg string)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		msg, err := c.Receive()
		if errors.Is(err, crypto.ErrDecryption) {
			slog.Warn("dropping undecryptable message", "err", err)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("client: receive: %w", err)
		}
		if tr != nil && lang != "" {
			if translated, err := tr.Translate(ctx, msg, lang); err == nil {
				msg = translated
			} else {
				slog.Debug("translation failed", "lang", lang, "err", err)
			}
		}
		fn(msg)
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
