// Package session provides the credential the connection manager needs
// at connect time. The device does not hold the signing secret; it only
// inspects the stored token's expiry to avoid dialing with a credential
// the server will refuse anyway.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when no valid, non-expired credential
// is available. Surfaced to the session layer, never retried here.
var ErrUnauthenticated = errors.New("no valid session credential")

// TokenSource yields the current session credential.
type TokenSource interface {
	Token() (string, error)
}

// JWTSource holds a bearer token and rejects it once its exp claim has
// passed. The signature is not verified on-device.
type JWTSource struct {
	mu    sync.Mutex
	token string
	nowFn func() time.Time
}

func NewJWTSource() *JWTSource {
	return &JWTSource{nowFn: time.Now}
}

// Set replaces the stored credential, e.g. after login or refresh.
// An empty token clears the session.
func (s *JWTSource) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *JWTSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return "", ErrUnauthenticated
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.token, claims); err != nil {
		return "", ErrUnauthenticated
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", ErrUnauthenticated
	}
	if !exp.After(s.nowFn()) {
		return "", ErrUnauthenticated
	}

	return s.token, nil
}
