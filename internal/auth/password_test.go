package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "secret1" {
		t.Fatal("hash must not equal the plain password")
	}
	if !h.Compare(hash, "secret1") {
		t.Error("Compare should accept the correct password")
	}
	if h.Compare(hash, "wrong-password") {
		t.Error("Compare should reject a wrong password")
	}
	if h.Compare("not-a-bcrypt-hash", "secret1") {
		t.Error("Compare should reject a malformed hash")
	}
}

func TestNewPasswordHasher_OutOfRangeCostFallsBack(t *testing.T) {
	if h := NewPasswordHasher(0); h.cost != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", h.cost, bcrypt.DefaultCost)
	}
	if h := NewPasswordHasher(99); h.cost != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", h.cost, bcrypt.DefaultCost)
	}
	if h := NewPasswordHasher(12); h.cost != 12 {
		t.Errorf("cost = %d, want 12", h.cost)
	}
}
