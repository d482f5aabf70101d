package auth

import "errors"

// Sentinel errors for the auth package.
var (
	// ErrRefreshTokenReused is returned when a consumed or unknown refresh token is presented, which the transport
	// layer maps to AUTH_INVALID without distinguishing reuse from a bad token (spec §4.1).
	ErrRefreshTokenReused   = errors.New("refresh token reused or unknown")
	ErrInvalidEmail         = errors.New("invalid email format")
	ErrUsernameLength       = errors.New("username must be between 3 and 50 characters")
	ErrUsernameInvalidChars = errors.New("username may only contain letters, digits, underscores, and periods")
	ErrPasswordTooShort     = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong      = errors.New("password must be at most 128 characters")
	ErrInvalidCredentials   = errors.New("invalid username/email or password")
	ErrEmailAlreadyTaken    = errors.New("email or username already taken")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)
