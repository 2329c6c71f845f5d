package auth

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format: %q", hash)
	}
	if err := VerifyToken(hash, "s3cret"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyToken(hash, "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyTokenRejectsMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plain", "bcrypt$sha256$1$a$b", "pbkdf2$sha256$zero$a$b"} {
		if err := VerifyToken(hash, "anything"); err == nil {
			t.Errorf("expected error for hash %q", hash)
		}
	}
}

func TestDisabledGuardAllowsEverything(t *testing.T) {
	guard, err := NewGuard("  ")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	if guard.Enabled() {
		t.Fatal("blank token should disable the guard")
	}
	if err := guard.Authorize(""); err != nil {
		t.Fatalf("disabled guard should authorize: %v", err)
	}
}

func TestGuardAuthorizeRequest(t *testing.T) {
	guard, err := NewGuard("s3cret")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	withHeader := httptest.NewRequest("GET", "/api/queue", nil)
	withHeader.Header.Set("Authorization", "Bearer s3cret")
	if err := guard.AuthorizeRequest(withHeader); err != nil {
		t.Fatalf("header token should authorize: %v", err)
	}

	withQuery := httptest.NewRequest("GET", "/api/upload-progress/abc?token=s3cret", nil)
	if err := guard.AuthorizeRequest(withQuery); err != nil {
		t.Fatalf("query token should authorize: %v", err)
	}

	bad := httptest.NewRequest("GET", "/api/queue", nil)
	bad.Header.Set("Authorization", "Bearer nope")
	if err := guard.AuthorizeRequest(bad); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	missing := httptest.NewRequest("GET", "/api/queue", nil)
	if err := guard.AuthorizeRequest(missing); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing token, got %v", err)
	}
}
