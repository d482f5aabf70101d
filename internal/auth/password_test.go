package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// testCost uses bcrypt.MinCost rather than the production default (12) so these tests run quickly; the cost
// parameter itself is exercised separately by TestNeedsRehash.
const testCost = bcrypt.MinCost

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()
	password := "testPassword123!"

	hash, err := HashPassword(password, testCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "" {
		t.Fatal("HashPassword() returned empty hash")
	}

	if !VerifyPassword(password, hash) {
		t.Error("VerifyPassword() = false, want true for correct password")
	}
}

func TestVerifyPasswordWrong(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("correctPassword", testCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if VerifyPassword("wrongPassword!", hash) {
		t.Error("VerifyPassword() = true, want false for wrong password")
	}
}

func TestNeedsRehash(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("password", testCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !NeedsRehash(hash, testCost+1) {
		t.Error("NeedsRehash() = false, want true when configured cost is higher than the hash's")
	}
	if NeedsRehash(hash, testCost) {
		t.Error("NeedsRehash() = true, want false when configured cost matches the hash's")
	}
}
