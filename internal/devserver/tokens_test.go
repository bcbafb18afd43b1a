package devserver

import (
	"errors"
	"testing"
	"time"

	"medivault/pkg/domain"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Minute)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue(domain.User{Username: "alice", FullName: "Alice Liddell"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("expected alice, got %q", subject)
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return start }
	token, err := issuer.Issue(domain.User{Username: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewTokenIssuerRequiresLongSecret(t *testing.T) {
	if _, err := NewTokenIssuer("short", time.Minute); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
