package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/cache"
	"github.com/pulsechat/pulsechat-server/internal/config"
	"github.com/pulsechat/pulsechat-server/internal/user"
)

// dummyPassword is hashed once at startup to give Login a real bcrypt comparison to run even when the user does not
// exist, keeping the unknown-user and wrong-password code paths the same shape in time (spec §4.2).
const dummyPassword = "pulsechat-dummy-password"

// Sender sends transactional emails. Implementations must be safe for concurrent use. A nil Sender means reset
// tokens are only logged (development convenience), never mailed.
type Sender interface {
	SendPasswordReset(to, token, clientBaseURL string) error
}

// refreshTokenStore is satisfied by *RefreshStore; narrowed to an interface so Service can be unit tested against a
// fake without a live Postgres connection.
type refreshTokenStore interface {
	Issue(ctx context.Context, userID uuid.UUID) (string, error)
	Rotate(ctx context.Context, presented string) (string, uuid.UUID, error)
	Revoke(ctx context.Context, presented string) error
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// resetTokenStore is satisfied by *cache.ResetStore; narrowed to an interface for the same reason as
// refreshTokenStore.
type resetTokenStore interface {
	Issue(ctx context.Context, userID uuid.UUID) (string, error)
	Redeem(ctx context.Context, token string) (uuid.UUID, error)
}

// Service implements the auth business logic described in spec §4.2: signup, login, logout, refresh, session_check,
// lookup_user, request_reset, confirm_reset.
type Service struct {
	users     user.Repository
	refresh   refreshTokenStore
	reset     resetTokenStore
	cfg       *config.Config
	sender    Sender
	log       zerolog.Logger
	dummyHash string
}

// NewService constructs a Service. It returns an error if computing the dummy password hash fails, since bcrypt
// failing at startup means every login attempt would fail anyway.
func NewService(users user.Repository, refresh refreshTokenStore, reset resetTokenStore, cfg *config.Config, sender Sender, logger zerolog.Logger) (*Service, error) {
	dummy, err := HashPassword(dummyPassword, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		refresh:   refresh,
		reset:     reset,
		cfg:       cfg,
		sender:    sender,
		log:       logger,
		dummyHash: dummy,
	}, nil
}

// SignupRequest is the input to Signup.
type SignupRequest struct {
	Email    string
	Username string
	Password string
}

// LoginRequest is the input to Login. Identifier may be either a username or an email (spec §4.2).
type LoginRequest struct {
	Identifier string
	Password   string
}

// AuthResult pairs a user with a freshly issued token pair.
type AuthResult struct {
	User         *user.User
	AccessToken  string
	RefreshToken string
}

// TokenPair is the output of Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LookupResult is the output of LookupUser.
type LookupResult struct {
	UserID      uuid.UUID
	DisplayName string
}

// Signup validates the request, bcrypt-hashes the password, inserts the user, and issues a token pair. Email/username
// collisions surface as ErrEmailAlreadyTaken (mapped to CONFLICT at the transport layer).
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResult, error) {
	email, _, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, user.CreateParams{
		Email:        email,
		Username:     req.Username,
		PasswordHash: hash,
		Role:         user.RoleUser,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Debug().Str("user_id", u.ID.String()).Msg("user signed up")

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: u, AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// Login verifies credentials looked up by username or email and issues a token pair. The error returned for an
// unknown identifier and for a wrong password is identical (ErrInvalidCredentials), and a dummy bcrypt comparison
// runs on the unknown-identifier path so the two cases take comparable time (spec §4.2).
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	creds, err := s.users.GetByUsernameOrEmail(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_ = VerifyPassword(req.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !VerifyPassword(req.Password, creds.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(creds.PasswordHash, s.cfg.BcryptCost) {
		if newHash, hashErr := HashPassword(req.Password, s.cfg.BcryptCost); hashErr == nil {
			if updateErr := s.users.UpdatePasswordHash(ctx, creds.ID, newHash); updateErr != nil {
				s.log.Warn().Err(updateErr).Str("user_id", creds.ID.String()).Msg("failed to rotate password hash")
			}
		}
	}

	tokens, err := s.issueTokens(ctx, &creds.User)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: &creds.User, AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// Logout revokes the presented refresh token. Idempotent: revoking an already-revoked or unknown token is not an
// error (spec §4.2).
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.refresh.Revoke(ctx, refreshToken)
}

// Refresh rotates a refresh token and issues a new access token, per the atomic contract in spec §4.1.
// ErrRefreshTokenReused is returned (and mapped to AUTH_INVALID at the transport layer) when the presented token is
// unknown, expired, or already consumed.
func (s *Service) Refresh(ctx context.Context, oldToken string) (*TokenPair, error) {
	newRefresh, userID, err := s.refresh.Rotate(ctx, oldToken)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user for refresh: %w", err)
	}

	accessToken, err := NewAccessToken(u, s.cfg.JWTSecret, s.cfg.AccessTokenTTL, s.cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefresh}, nil
}

// SessionCheck validates an access token and returns its claims, letting a client confirm its access token is still
// good without hitting a protected endpoint (spec §4.2).
func (s *Service) SessionCheck(tokenStr string) (*AccessClaims, error) {
	claims, err := ValidateAccessToken(tokenStr, s.cfg.JWTSecret, s.cfg.JWTIssuer)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// LookupUser resolves a username to {user_id, display_name}, or ErrNotFound (spec §4.2: "Used by clients to
// translate usernames to ids before routing").
func (s *Service) LookupUser(ctx context.Context, username string) (*LookupResult, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return &LookupResult{UserID: u.ID, DisplayName: u.Username}, nil
}

// RequestReset issues a password-reset token and emails it to the account's address if one exists. Issuance is
// always a silent success regardless of whether the email is registered, preventing user enumeration (spec §4.1).
func (s *Service) RequestReset(ctx context.Context, email string) error {
	normalized, _, err := ValidateEmail(email)
	if err != nil {
		return nil
	}

	creds, err := s.users.GetByUsernameOrEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user for reset request: %w", err)
	}

	token, err := s.reset.Issue(ctx, creds.ID)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	if s.cfg.IsDevelopment() {
		s.log.Info().Str("user_id", creds.ID.String()).Str("token", token).Msg("password reset token (dev mode)")
	}

	if s.sender != nil {
		if err := s.sender.SendPasswordReset(creds.Email, token, s.cfg.ClientBaseURL); err != nil {
			s.log.Error().Err(err).Str("user_id", creds.ID.String()).Msg("failed to send password reset email")
		}
	}

	return nil
}

// ConfirmReset redeems a reset token and updates the account's password hash. ErrInvalidToken is returned (and
// mapped to AUTH_INVALID) if the token is unknown, expired, or already consumed (spec §4.1).
func (s *Service) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	userID, err := s.reset.Redeem(ctx, token)
	if err != nil {
		if errors.Is(err, cache.ErrResetTokenNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("redeem reset token: %w", err)
	}

	hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	if err := s.refresh.RevokeAll(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to revoke refresh tokens after password reset")
	}

	return nil
}

func (s *Service) issueTokens(ctx context.Context, u *user.User) (*TokenPair, error) {
	accessToken, err := NewAccessToken(u, s.cfg.JWTSecret, s.cfg.AccessTokenTTL, s.cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	refreshToken, err := s.refresh.Issue(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
