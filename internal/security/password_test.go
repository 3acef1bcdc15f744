package security

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatalf("hash must not equal the plaintext")
	}

	ok, err := h.Matches(hash, "s3cret-pass")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = h.Matches(hash, "wrong")
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, got ok=%v err=%v", ok, err)
	}
}

func TestBcryptHasherCorruptHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	if _, err := h.Matches("not-a-bcrypt-hash", "x"); err == nil {
		t.Fatalf("expected an error for a corrupt hash")
	}
}

func TestNewBcryptHasherFallsBackToDefault(t *testing.T) {
	if got := NewBcryptHasher(0).Cost; got != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", got)
	}
}
