package auth

import (
	"errors"
	"testing"
	"time"
)

func mustManager(t *testing.T, cfg TokenManagerConfig) *TokenManager {
	t.Helper()
	manager, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("constructing token manager: %v", err)
	}
	return manager
}

func TestTokenRoundTrip(t *testing.T) {
	manager := mustManager(t, TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
		TokenTTL:      time.Hour,
	})

	token, expiresIn, err := manager.Issue("editor-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("expires_in = %d, want %d", expiresIn, int64(time.Hour.Seconds()))
	}

	subject, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if subject != "editor-1" {
		t.Fatalf("subject = %q, want editor-1", subject)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer := mustManager(t, TokenManagerConfig{
		SigningSecret: []byte("secret-a"),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
	})
	validator := mustManager(t, TokenManagerConfig{
		SigningSecret: []byte("secret-b"),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
	})

	token, _, err := issuer.Issue("editor-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := validator.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	manager := mustManager(t, TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return now },
	})

	token, _, err := manager.Issue("editor-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := manager.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenAudienceMismatch(t *testing.T) {
	issuer := mustManager(t, TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "canopy-auth",
		Audience:      "other-service",
	})
	validator := mustManager(t, TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "canopy-auth",
		Audience:      "canopy-api",
	})

	token, _, err := issuer.Issue("editor-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := validator.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	manager := mustManager(t, TokenManagerConfig{SigningSecret: []byte("test-secret")})
	if _, _, err := manager.Issue(""); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager(TokenManagerConfig{}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected ErrMissingSigningSecret, got %v", err)
	}
}
