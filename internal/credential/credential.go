// Package credential holds the bearer token that gates the event channel.
//
// The token is a JWT issued by the chat server. The client cannot verify its
// signature and does not try to; it only decodes the claims to learn the
// expiry and the embedded user identity.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/storage"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// StorageKey is the key the token is persisted under.
const StorageKey = "token"

// Claims is the JWT payload issued by the server.
type Claims struct {
	User wire.User `json:"user"`
	jwt.RegisteredClaims
}

// Credential is a decoded bearer token.
type Credential struct {
	// Token is the raw token, sent verbatim as the channel auth parameter.
	Token string
	// ExpiresAt is the decoded `exp` claim.
	ExpiresAt time.Time
	// User is the identity embedded in the token.
	User wire.User
}

// Valid reports whether the credential may be used at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// IsValid is Valid as a free function.
func IsValid(c Credential, now time.Time) bool {
	return c.Valid(now)
}

var errNoExpiry = errors.New("token has no exp claim")

// Decode extracts the claims from token without verifying its signature.
//
// Any failure is reported as apperr.ErrUnauthenticated so callers never have
// to distinguish "garbage on disk" from "no token".
func Decode(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, apperr.Unauthenticated("decode token", errors.New("empty token"))
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Credential{}, apperr.Unauthenticated("decode token", err)
	}
	if claims.ExpiresAt == nil {
		return Credential{}, apperr.Unauthenticated("decode token", errNoExpiry)
	}

	return Credential{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      claims.User,
	}, nil
}

// Store persists the credential in a storage.KV.
//
// It is the single writer of the credential: sign-in, sign-up, refresh and
// sign-out all go through it.
type Store struct {
	kv    storage.KV
	clock actor.Clock
}

// NewStore returns a Store backed by kv. A nil clock means the wall clock.
func NewStore(kv storage.KV, clock actor.Clock) *Store {
	if clock == nil {
		clock = actor.RealClock{}
	}
	return &Store{kv: kv, clock: clock}
}

// Load returns the stored credential. ok is false when nothing usable is
// stored; read and decode failures are logged and reported as absent.
func (s *Store) Load() (cred Credential, ok bool) {
	raw, found, err := s.kv.Get(StorageKey)
	if err != nil {
		logger.Warnf("credential: read failed: %v", err)
		return Credential{}, false
	}
	if !found || strings.TrimSpace(raw) == "" {
		return Credential{}, false
	}
	cred, err = Decode(raw)
	if err != nil {
		logger.Warnf("credential: stored token is unreadable: %v", err)
		return Credential{}, false
	}
	return cred, true
}

// LoadValid returns the stored credential only if it is valid now.
func (s *Store) LoadValid() (Credential, bool) {
	cred, ok := s.Load()
	if !ok || !cred.Valid(s.clock.Now()) {
		return Credential{}, false
	}
	return cred, true
}

// Save decodes token and persists it, replacing any previous credential.
// Undecodable tokens are rejected and nothing is written.
func (s *Store) Save(token string) (Credential, error) {
	cred, err := Decode(token)
	if err != nil {
		return Credential{}, err
	}
	if err := s.kv.Set(StorageKey, cred.Token); err != nil {
		return Credential{}, fmt.Errorf("failed to persist token: %w", err)
	}
	return cred, nil
}

// Clear removes the stored credential.
func (s *Store) Clear() error {
	if err := s.kv.Remove(StorageKey); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}
