package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// BypassVerifier decides whether a presented bypass credential is
// pre-authorized for an actor.
type BypassVerifier interface {
	Verify(actor, credential string) bool
}

// TokenVerifier accepts credentials whose SHA-256 hex digest is on its
// list. When AllowedActors is non-empty the actor must be on it too.
type TokenVerifier struct {
	TokenSHA256   []string
	AllowedActors []string
}

// HashToken returns the hex SHA-256 digest stored in configuration for a
// bypass token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (v TokenVerifier) Verify(actor, credential string) bool {
	if credential == "" || len(v.TokenSHA256) == 0 {
		return false
	}
	if len(v.AllowedActors) > 0 {
		allowed := false
		for _, a := range v.AllowedActors {
			if a == actor {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	got := []byte(HashToken(credential))
	ok := false
	for _, h := range v.TokenSHA256 {
		want := []byte(strings.ToLower(strings.TrimSpace(h)))
		if subtle.ConstantTimeCompare(got, want) == 1 {
			ok = true
		}
	}
	return ok
}
