package server

import (
	"context"
	"crypto/subtle"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
)

// Authenticator verifies the password offered for the admin identity.
type Authenticator interface {
	Verify(ctx context.Context, name, password string) bool
}

// StaticAuthenticator checks one name against an argon2id hash of one
// password. The plaintext is discarded after construction.
type StaticAuthenticator struct {
	name string
	hash []byte
	salt []byte
}

// NewStaticAuthenticator hashes password for name.
func NewStaticAuthenticator(name, password string) (*StaticAuthenticator, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	return &StaticAuthenticator{
		name: name,
		hash: crypto.HashPassword(password, salt),
		salt: salt,
	}, nil
}

func (a *StaticAuthenticator) Verify(_ context.Context, name, password string) bool {
	// Hash unconditionally so a wrong name costs the same as a wrong password.
	ok := crypto.VerifyPassword(a.hash, a.salt, password)
	return subtle.ConstantTimeCompare([]byte(name), []byte(a.name)) == 1 && ok
}
