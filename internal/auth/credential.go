package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrInvalidCredential = errors.New("invalid access token")

// SharedSecret is the editor credential for stores without an upstream
// identity (local git, redis). Only the configured secret grants write
// access; with no secret configured nobody can edit.
type SharedSecret struct {
	secret []byte
}

func NewSharedSecret(secret string) SharedSecret {
	return SharedSecret{secret: []byte(strings.TrimSpace(secret))}
}

// VerifyCredential returns an empty store token: the secret only opens the
// session and is never forwarded to the store.
func (s SharedSecret) VerifyCredential(_ context.Context, token string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.Join(ErrInvalidCredential, errors.New("no editor secret configured"))
	}
	if subtle.ConstantTimeCompare([]byte(token), s.secret) != 1 {
		return "", ErrInvalidCredential
	}
	return "", nil
}
