package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	tokenVersion = 0x81

	// headerSize is [version(1) | method(1) | unix seconds(8)].
	headerSize = 10

	// MaxClockSkew is how far in the future a token timestamp may lie.
	MaxClockSkew = 60 * time.Second

	// DefaultTTL bounds how old an accepted token may be.
	DefaultTTL = 2 * time.Minute
)

// Gateway seals and opens tokens under the single server-wide key.
//
// Token wire form (base64url):
//
//	version(1) | method(1) | timestamp(8) | nonce | ciphertext+tag
//
// The 10-byte header is authenticated as associated data, so tampering with
// the timestamp is detected just like tampering with the ciphertext.
type Gateway struct {
	aead   cipher.AEAD
	method Method
	ttl    time.Duration
	now    func() time.Time
	replay *replayGuard
}

// Option configures a Gateway.
type Option func(g *Gateway)

// WithTTL sets the maximum token age. Zero disables the age check.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.ttl = ttl
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithReplayGuard rejects any token whose nonce was already accepted within
// the TTL window. Requires a non-zero TTL.
func WithReplayGuard() Option {
	return func(g *Gateway) {
		g.replay = &replayGuard{seen: make(map[string]time.Time)}
	}
}

// NewGateway creates a gateway for key using method.
func NewGateway(key []byte, method Method, opts ...Option) (*Gateway, error) {
	aead, err := NewAEAD(method, key)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		aead:   aead,
		method: method,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.replay != nil && g.ttl <= 0 {
		return nil, errors.New("crypto: replay guard requires a token TTL")
	}
	return g, nil
}

// Method returns the AEAD method tokens are sealed with.
func (g *Gateway) Method() Method {
	return g.method
}

// Encrypt seals plaintext into a fresh token. Every call draws a new nonce, so
// the same plaintext never yields the same token twice.
func (g *Gateway) Encrypt(plaintext []byte) ([]byte, error) {
	nonceSize := g.aead.NonceSize()
	raw := make([]byte, headerSize+nonceSize, headerSize+nonceSize+len(plaintext)+g.aead.Overhead())
	raw[0] = tokenVersion
	raw[1] = byte(g.method)
	binary.BigEndian.PutUint64(raw[2:headerSize], uint64(g.now().Unix())) //nolint:gosec // unix time is positive
	nonce := raw[headerSize:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	raw = g.aead.Seal(raw, nonce, plaintext, raw[:headerSize])

	token := make([]byte, base64.URLEncoding.EncodedLen(len(raw)))
	base64.URLEncoding.Encode(token, raw)
	return token, nil
}

// Decrypt verifies and opens a token. Every failure wraps ErrDecryption.
func (g *Gateway) Decrypt(token []byte) ([]byte, error) {
	raw := make([]byte, base64.URLEncoding.DecodedLen(len(token)))
	n, err := base64.URLEncoding.Decode(raw, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrInvalidToken)
	}
	raw = raw[:n]

	nonceSize := g.aead.NonceSize()
	if len(raw) < headerSize+nonceSize+g.aead.Overhead() {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrInvalidToken)
	}
	if raw[0] != tokenVersion || Method(raw[1]) != g.method {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrInvalidToken)
	}

	header := raw[:headerSize]
	nonce := raw[headerSize : headerSize+nonceSize]
	plaintext, err := g.aead.Open(nil, nonce, raw[headerSize+nonceSize:], header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrInvalidToken)
	}

	// Freshness is checked only once the header is known to be authentic.
	issued := time.Unix(int64(binary.BigEndian.Uint64(header[2:])), 0) //nolint:gosec // authenticated header
	now := g.now()
	if issued.After(now.Add(MaxClockSkew)) {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrInvalidToken)
	}
	if g.ttl > 0 && now.Sub(issued) > g.ttl {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrTokenExpired)
	}
	if g.replay != nil && !g.replay.accept(string(nonce), issued.Add(g.ttl+MaxClockSkew), now) {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrTokenReplayed)
	}
	return plaintext, nil
}

// EncryptString is Encrypt for text payloads.
func (g *Gateway) EncryptString(s string) ([]byte, error) {
	return g.Encrypt([]byte(s))
}

// DecryptString is Decrypt for text payloads.
func (g *Gateway) DecryptString(token []byte) (string, error) {
	plaintext, err := g.Decrypt(token)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// replayGuard remembers accepted nonces until their token could no longer pass
// the TTL check anyway.
type replayGuard struct {
	mu      sync.Mutex
	seen    map[string]time.Time // nonce -> forget after
	inserts int
}

const replayPruneEvery = 256

func (r *replayGuard) accept(nonce string, forgetAfter, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if until, ok := r.seen[nonce]; ok && now.Before(until) {
		return false
	}
	r.seen[nonce] = forgetAfter
	r.inserts++
	if r.inserts%replayPruneEvery == 0 {
		for k, until := range r.seen {
			if !now.Before(until) {
				delete(r.seen, k)
			}
		}
	}
	return true
}
