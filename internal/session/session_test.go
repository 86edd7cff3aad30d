package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
		"exp":     exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestEmptySessionIsUnauthenticated(t *testing.T) {
	s := NewJWTSource()
	if _, err := s.Token(); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestValidTokenReturned(t *testing.T) {
	s := NewJWTSource()
	want := signedToken(t, time.Now().Add(time.Hour))
	s.Set(want)

	got, err := s.Token()
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if got != want {
		t.Fatalf("token mangled")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	s := NewJWTSource()
	s.Set(signedToken(t, time.Now().Add(time.Hour)))

	s.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Token(); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	s := NewJWTSource()
	s.Set("not-a-jwt")
	if _, err := s.Token(); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("malformed token accepted: %v", err)
	}
}

func TestTokenWithoutExpiryRejected(t *testing.T) {
	s := NewJWTSource()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1"})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	s.Set(signed)

	if _, err := s.Token(); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("token without exp accepted: %v", err)
	}
}

func TestClearSession(t *testing.T) {
	s := NewJWTSource()
	s.Set(signedToken(t, time.Now().Add(time.Hour)))
	s.Set("")
	if _, err := s.Token(); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("cleared session still authenticated: %v", err)
	}
}
