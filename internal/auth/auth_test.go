package auth

import (
	"errors"
	"testing"
	"time"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Fatal("correct password should verify")
	}
	if CheckPassword("wrong", hash) {
		t.Fatal("wrong password should not verify")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	data, err := svc.DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if data.UserID != "user-1" || data.Username != "alice" {
		t.Fatalf("unexpected claims: %+v", data)
	}
}

func TestTokenRejectedAcrossSecrets(t *testing.T) {
	issuer := NewService("secret-a", time.Hour)
	verifier := NewService("secret-b", time.Hour)

	token, err := issuer.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := verifier.DecodeToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := &Service{secret: []byte("test-secret"), ttl: -time.Minute}

	token, err := svc.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := svc.DecodeToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.DecodeToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}
