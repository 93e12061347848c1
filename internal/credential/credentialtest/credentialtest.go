// Package credentialtest mints tokens shaped like the ones the chat server
// issues.
package credentialtest

import (
	"testing"
	"time"

	"github.com/bhandras/chatsync/internal/credential"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("chatsync-test-signing-key")

// Mint returns a signed token for user expiring at exp.
func Mint(t testing.TB, user wire.User, exp time.Time) string {
	t.Helper()

	claims := credential.Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(exp.Add(-24 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
