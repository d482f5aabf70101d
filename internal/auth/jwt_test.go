package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsechat/pulsechat-server/internal/user"
)

const testIssuer = "https://test.example.com"

func testUser() *user.User {
	return &user.User{
		ID:       uuid.New(),
		Email:    "alice@example.com",
		Username: "alice",
		Role:     user.RoleUser,
	}
}

func TestNewAccessTokenAndValidate(t *testing.T) {
	t.Parallel()
	u := testUser()
	secret := "test-secret-key-for-jwt"

	tokenStr, err := NewAccessToken(u, secret, 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	claims, err := ValidateAccessToken(tokenStr, secret, testIssuer)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}

	if claims.Subject != u.Email {
		t.Errorf("Subject = %q, want %q", claims.Subject, u.Email)
	}
	if claims.UserID != u.ID {
		t.Errorf("UserID = %v, want %v", claims.UserID, u.ID)
	}
	if claims.Username != u.Username {
		t.Errorf("Username = %q, want %q", claims.Username, u.Username)
	}
	if claims.Role != u.Role {
		t.Errorf("Role = %q, want %q", claims.Role, u.Role)
	}
}

func TestNewAccessTokenEmptySecret(t *testing.T) {
	t.Parallel()
	_, err := NewAccessToken(testUser(), "", 15*time.Minute, testIssuer)
	if err == nil {
		t.Fatal("NewAccessToken() with empty secret should return error")
	}
}

func TestValidateAccessTokenExpired(t *testing.T) {
	t.Parallel()
	u := testUser()
	secret := "test-secret"

	// Create a token that expired 1 second ago.
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Email,
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		},
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	_, err = ValidateAccessToken(tokenStr, secret, testIssuer)
	if err == nil {
		t.Fatal("ValidateAccessToken() with expired token should return error")
	}
}

func TestValidateAccessTokenWrongSecret(t *testing.T) {
	t.Parallel()

	tokenStr, err := NewAccessToken(testUser(), "correct-secret", 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	_, err = ValidateAccessToken(tokenStr, "wrong-secret", testIssuer)
	if err == nil {
		t.Fatal("ValidateAccessToken() with wrong secret should return error")
	}
}

func TestValidateAccessTokenWrongIssuer(t *testing.T) {
	t.Parallel()
	secret := "test-secret"

	tokenStr, err := NewAccessToken(testUser(), secret, 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	_, err = ValidateAccessToken(tokenStr, secret, "https://wrong.example.com")
	if err == nil {
		t.Fatal("ValidateAccessToken() with wrong issuer should return error")
	}
}

func TestValidateAccessTokenMalformed(t *testing.T) {
	t.Parallel()
	_, err := ValidateAccessToken("not.a.valid.jwt", "secret", testIssuer)
	if err == nil {
		t.Fatal("ValidateAccessToken() with malformed token should return error")
	}
}
