// Package crypto provides the relay's symmetric token cipher, key handling and
// admin password hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KeySize is the size of the server-wide symmetric key for every method.
const KeySize = 32

// SaltSize is the argon2id salt length.
const SaltSize = 16

var (
	// ErrDecryption is the root of every token rejection.
	ErrDecryption = errors.New("crypto: decryption failed")

	ErrInvalidToken  = errors.New("crypto: invalid token")
	ErrTokenExpired  = errors.New("crypto: token expired")
	ErrTokenReplayed = errors.New("crypto: token replayed")
	ErrInvalidKey    = errors.New("crypto: invalid key")
)

// GenerateKey generates a random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// EncodeKey returns the text form of a key, as shown to operators and sent
// during in-band key handoff.
func EncodeKey(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

// DecodeKey parses the text form of a key. Missing padding is tolerated
// since keys are often pasted by hand.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(trimPadding(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return key, nil
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

// NewSalt returns a random salt for HashPassword.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// VerifyPassword reports whether attempt hashes to hash under salt.
// The comparison is constant-time.
func VerifyPassword(hash, salt []byte, attempt string) bool {
	return subtle.ConstantTimeCompare(hash, HashPassword(attempt, salt)) == 1
}
