package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheckPassword(t *testing.T) {
	digest, err := HashPassword("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if digest == "secret" || digest == "" {
		t.Fatalf("digest must not be empty or the plaintext, got %q", digest)
	}

	if !CheckPassword("secret", digest) {
		t.Fatalf("correct password should verify")
	}
	if CheckPassword("wrong", digest) {
		t.Fatalf("wrong password must not verify")
	}
	if CheckPassword("secret", "not-a-digest") {
		t.Fatalf("garbage digest must not verify")
	}
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	a, err := HashPassword("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatalf("two digests of the same password should differ (per-hash salt)")
	}
}

func TestNewRoomToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := NewRoomToken()
		if err != nil {
			t.Fatalf("NewRoomToken: %v", err)
		}
		if len(tok) != 32 {
			t.Fatalf("expected 32 hex chars, got %d (%q)", len(tok), tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewConnID(t *testing.T) {
	a, b := NewConnID(), NewConnID()
	if a == "" || a == b {
		t.Fatalf("connection ids must be non-empty and unique, got %q and %q", a, b)
	}
}
