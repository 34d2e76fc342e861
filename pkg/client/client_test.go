package client

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/server"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// fakeServer runs fn on the server end of a pipe and returns the client end.
func fakeServer(t *testing.T, fn func(conn net.Conn)) net.Conn {
	t.Helper()
	srvConn, cliConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer srvConn.Close()
		fn(srvConn)
	}()
	t.Cleanup(func() {
		_ = cliConn.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("fake server did not finish")
		}
	})
	return cliConn
}

func newKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newGateway(t *testing.T, key []byte) *crypto.Gateway {
	t.Helper()
	gw, err := crypto.NewGateway(key, crypto.MethodChaCha20Poly1305)
	require.NoError(t, err)
	return gw
}

func TestHandshakeWithKeyHandoff(t *testing.T) {
	key := newKey(t)
	gw := newGateway(t, key)
	got := make(chan string, 1)

	conn := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteString(conn, crypto.EncodeKey(key))
		_ = protocol.WriteString(conn, protocol.TokenName)
		name, _ := protocol.ReadString(conn)
		if name != "alice" {
			return
		}
		_ = protocol.WriteString(conn, protocol.Connected)

		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		msg, _ := gw.DecryptString(frame)
		got <- msg

		token, _ := gw.EncryptString("bob: yo")
		_ = protocol.WriteFrame(conn, token)
	})

	c, err := Handshake(context.Background(), conn, Options{Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Name())
	assert.False(t, c.Admin())

	require.NoError(t, c.Send("hi"))
	assert.Equal(t, "hi", <-got)

	msg, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, "bob: yo", msg)
}

func TestHandshakeWithConfiguredKey(t *testing.T) {
	key := newKey(t)
	conn := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteString(conn, protocol.TokenName)
		_, _ = protocol.ReadString(conn)
		_ = protocol.WriteString(conn, protocol.Connected)
	})

	_, err := Handshake(context.Background(), conn, Options{Name: "alice", Key: key})
	require.NoError(t, err)
}

func TestHandshakeAdmin(t *testing.T) {
	key := newKey(t)
	conn := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteString(conn, crypto.EncodeKey(key))
		_ = protocol.WriteString(conn, protocol.TokenName)
		_, _ = protocol.ReadString(conn)
		_ = protocol.WriteString(conn, protocol.TokenPassword)
		if pw, _ := protocol.ReadString(conn); pw != "hunter2" {
			_ = protocol.WriteString(conn, protocol.IncorrectPassword)
			return
		}
		_ = protocol.WriteString(conn, protocol.WelcomeAdmin)
		_ = protocol.WriteString(conn, protocol.Connected)
	})

	c, err := Handshake(context.Background(), conn, Options{Name: "admin", Password: "hunter2"})
	require.NoError(t, err)
	assert.True(t, c.Admin())
}

func TestHandshakeErrors(t *testing.T) {
	key := newKey(t)
	otherKey := newKey(t)

	tests := []struct {
		name    string
		opts    Options
		handoff bool
		reply   []string // sent after reading the name
		wantErr error
	}{
		{"banned", Options{Name: "mallory"}, true, []string{protocol.TokenBan}, ErrBanned},
		{"taken", Options{Name: "alice"}, true, []string{protocol.TokenTaken}, ErrNameTaken},
		{"invalid", Options{Name: " "}, true, []string{protocol.TokenInvalid}, ErrInvalidName},
		{"wrong password", Options{Name: "admin"}, true, []string{protocol.TokenPassword, protocol.IncorrectPassword}, ErrIncorrectPassword},
		{"unexpected", Options{Name: "alice"}, true, []string{"HELLO"}, ErrUnexpectedToken},
		{"no key", Options{Name: "alice"}, false, nil, ErrNoKey},
		{"key mismatch", Options{Name: "alice", Key: otherKey}, true, nil, ErrKeyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := fakeServer(t, func(conn net.Conn) {
				if tt.handoff {
					if protocol.WriteString(conn, crypto.EncodeKey(key)) != nil {
						return
					}
				}
				if protocol.WriteString(conn, protocol.TokenName) != nil {
					return
				}
				if _, err := protocol.ReadString(conn); err != nil {
					return
				}
				for _, token := range tt.reply {
					if protocol.WriteString(conn, token) != nil {
						return
					}
					if token == protocol.TokenPassword {
						if _, err := protocol.ReadString(conn); err != nil {
							return
						}
					}
				}
			})

			_, err := Handshake(context.Background(), conn, tt.opts)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHandshakeGarbageFirstToken(t *testing.T) {
	conn := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteString(conn, "not a key!")
	})
	_, err := Handshake(context.Background(), conn, Options{Name: "alice"})
	require.ErrorIs(t, err, ErrUnexpectedToken)
}

func TestHandshakeServerHangsUp(t *testing.T) {
	conn := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteString(conn, protocol.TokenName)
		_, _ = protocol.ReadString(conn)
	})
	_, err := Handshake(context.Background(), conn, Options{Name: "alice", Key: newKey(t)})
	require.Error(t, err)
}

func connectedPair(t *testing.T, serve func(conn net.Conn, gw *crypto.Gateway)) *Client {
	t.Helper()
	key := newKey(t)
	gw := newGateway(t, key)
	conn := fakeServer(t, func(conn net.Conn) {
		_ = protocol.WriteString(conn, crypto.EncodeKey(key))
		_ = protocol.WriteString(conn, protocol.TokenName)
		_, _ = protocol.ReadString(conn)
		_ = protocol.WriteString(conn, protocol.Connected)
		serve(conn, gw)
	})
	c, err := Handshake(context.Background(), conn, Options{Name: "alice"})
	require.NoError(t, err)
	return c
}

func TestListenTranslatesAndSkipsGarbage(t *testing.T) {
	c := connectedPair(t, func(conn net.Conn, gw *crypto.Gateway) {
		for _, msg := range []string{"bob: hello", "carol: fail"} {
			token, _ := gw.EncryptString(msg)
			_ = protocol.WriteFrame(conn, token)
		}
		_ = protocol.WriteString(conn, "garbage")
		token, _ := gw.EncryptString("bob: bye")
		_ = protocol.WriteFrame(conn, token)
	})

	shout := TranslatorFunc(func(_ context.Context, text, lang string) (string, error) {
		if strings.Contains(text, "fail") {
			return "", errors.New("translation service down")
		}
		assert.Equal(t, "shout", lang)
		return strings.ToUpper(text), nil
	})

	var got []string
	err := c.Listen(context.Background(), shout, "shout", func(msg string) { got = append(got, msg) })
	require.NoError(t, err)
	assert.Equal(t, []string{"BOB: HELLO", "carol: fail", "BOB: BYE"}, got)
}

func TestListenWithoutLanguage(t *testing.T) {
	c := connectedPair(t, func(conn net.Conn, gw *crypto.Gateway) {
		token, _ := gw.EncryptString("bob: hallo")
		_ = protocol.WriteFrame(conn, token)
	})

	var got []string
	err := c.Listen(context.Background(), Identity{}, "", func(msg string) { got = append(got, msg) })
	require.NoError(t, err)
	assert.Equal(t, []string{"bob: hallo"}, got)
}

func TestListenIdentityKeepsTextForAnyLanguage(t *testing.T) {
	c := connectedPair(t, func(conn net.Conn, gw *crypto.Gateway) {
		token, _ := gw.EncryptString("bob: hallo")
		_ = protocol.WriteFrame(conn, token)
	})

	var got []string
	err := c.Listen(context.Background(), Identity{}, "fr", func(msg string) { got = append(got, msg) })
	require.NoError(t, err)
	assert.Equal(t, []string{"bob: hallo"}, got)
}

func TestListenStopsOnCancel(t *testing.T) {
	hold := make(chan struct{})
	c := connectedPair(t, func(net.Conn, *crypto.Gateway) { <-hold })
	t.Cleanup(func() { close(hold) })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Listen(ctx, nil, "", func(string) {}) }()

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestDialRealServer(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	srv, err := server.New(cfg, server.Dependencies{BanStore: store.NewMemory()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	<-srv.Ready()
	t.Cleanup(func() {
		srv.Shutdown()
		<-done
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := Dial(ctx, Options{Addr: srv.Addr().String(), Name: "alice", TokenTTL: crypto.DefaultTTL})
	require.NoError(t, err)
	defer alice.Close()
	admin, err := Dial(ctx, Options{Addr: srv.Addr().String(), Name: "admin", Password: "adminpass"})
	require.NoError(t, err)
	defer admin.Close()
	assert.True(t, admin.Admin())

	msg, err := alice.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinedNotice("admin"), msg)

	wire, err := ParseInput("/kick alice")
	require.NoError(t, err)
	require.NoError(t, admin.Send(wire))

	msg, err = alice.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.KickedNotice, msg)
	_, err = alice.Receive()
	assert.ErrorIs(t, err, io.EOF)

	_, err = Dial(ctx, Options{Addr: srv.Addr().String(), Name: "admin"})
	assert.ErrorIs(t, err, ErrNameTaken)
}
