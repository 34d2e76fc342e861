package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Method selects the AEAD that seals token payloads.
type Method uint8

const (
	MethodChaCha20Poly1305 Method = 1
	MethodAES256GCM        Method = 2
)

func (m Method) String() string {
	switch m {
	case MethodChaCha20Poly1305:
		return "chacha20poly1305"
	case MethodAES256GCM:
		return "aes256gcm"
	default:
		return "unknown"
	}
}

// ParseMethod converts a config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chacha20poly1305", "chacha20", "":
		return MethodChaCha20Poly1305, nil
	case "aes256gcm", "aes256", "aes-256-gcm":
		return MethodAES256GCM, nil
	default:
		return 0, fmt.Errorf("crypto: unknown cipher method %q", s)
	}
}

// NewAEAD builds the AEAD for method from a 32-byte key.
func NewAEAD(method Method, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	switch method {
	case MethodChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("crypto: new chacha20 cipher: %w", err)
		}
		return aead, nil
	case MethodAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("crypto: new gcm: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("crypto: unknown encryption method: %v", method)
	}
}
