package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/pulsechat/pulsechat-server/internal/apierrors"
	"github.com/pulsechat/pulsechat-server/internal/auth"
	"github.com/pulsechat/pulsechat-server/internal/httputil"
	"github.com/pulsechat/pulsechat-server/internal/user"
)

// AuthHandler serves the authentication endpoints described in spec §4.2.
type AuthHandler struct {
	Auth *auth.Service
}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type requestResetRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// userResponse is the user payload embedded in auth responses.
type userResponse struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	Role     user.Role `json:"role"`
}

func authResultResponse(result *auth.AuthResult) fiber.Map {
	return fiber.Map{
		"user": userResponse{
			ID:       result.User.ID.String(),
			Email:    result.User.Email,
			Username: result.User.Username,
			Role:     result.User.Role,
		},
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
	}
}

// Signup handles POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(c fiber.Ctx) error {
	var body signupRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}

	result, err := h.Auth.Signup(c.Context(), auth.SignupRequest{
		Email:    body.Email,
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, authResultResponse(result))
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}

	result, err := h.Auth.Login(c.Context(), auth.LoginRequest{
		Identifier: body.Identifier,
		Password:   body.Password,
	})
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, authResultResponse(result))
}

// Logout handles POST /api/v1/auth/logout. Revocation is idempotent, so an unknown or already-revoked token is not
// surfaced as an error (spec §4.2).
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	var body logoutRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}

	if err := h.Auth.Logout(c.Context(), body.RefreshToken); err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "logged out"})
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var body refreshRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}
	if body.RefreshToken == "" {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "refresh_token is required"))
	}

	tokens, err := h.Auth.Refresh(c.Context(), body.RefreshToken)
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

// SessionCheck handles GET /api/v1/auth/session, letting a client confirm its access token is still valid (spec
// §4.2). Protected by RequireAuth, so reaching the handler body already proves the token is good.
func (h *AuthHandler) SessionCheck(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{
		"user_id":  auth.UserIDFromContext(c).String(),
		"username": c.Locals("username"),
		"role":     c.Locals("role"),
	})
}

// LookupUser handles GET /api/v1/auth/lookup?username=..., resolving a username to {user_id, display_name} so
// clients can address messages before routing (spec §4.2).
func (h *AuthHandler) LookupUser(c fiber.Ctx) error {
	username := c.Query("username")
	if username == "" {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "username query parameter is required"))
	}

	result, err := h.Auth.LookupUser(c.Context(), username)
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{
		"user_id":      result.UserID.String(),
		"display_name": result.DisplayName,
	})
}

// RequestReset handles POST /api/v1/auth/request-reset. Always answers success regardless of whether the email is
// registered, to avoid leaking account existence (spec §4.1).
func (h *AuthHandler) RequestReset(c fiber.Ctx) error {
	var body requestResetRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}

	if err := h.Auth.RequestReset(c.Context(), body.Email); err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "if that account exists, a reset email has been sent"})
}

// ConfirmReset handles POST /api/v1/auth/confirm-reset.
func (h *AuthHandler) ConfirmReset(c fiber.Ctx) error {
	var body confirmResetRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}

	if err := h.Auth.ConfirmReset(c.Context(), body.Token, body.NewPassword); err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "password updated"})
}

// mapAuthError converts auth-layer sentinel errors to the taxonomy-tagged REST error response.
func mapAuthError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, err.Error()))
	case errors.Is(err, auth.ErrUsernameLength),
		errors.Is(err, auth.ErrUsernameInvalidChars):
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, err.Error()))
	case errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, err.Error()))
	case errors.Is(err, auth.ErrEmailAlreadyTaken):
		return httputil.Fail(c, apierrors.New(apierrors.Conflict, err.Error()))
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, apierrors.New(apierrors.AuthInvalid, err.Error()))
	case errors.Is(err, auth.ErrRefreshTokenReused), errors.Is(err, auth.ErrRefreshTokenNotFound):
		return httputil.Fail(c, apierrors.New(apierrors.AuthInvalid, "refresh token is invalid or has already been used"))
	case errors.Is(err, auth.ErrInvalidToken):
		return httputil.Fail(c, apierrors.New(apierrors.AuthInvalid, err.Error()))
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, apierrors.New(apierrors.NotFound, "user not found"))
	default:
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "an internal error occurred"))
	}
}
