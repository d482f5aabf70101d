package auth

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsechat/pulsechat-server/internal/apierrors"
	"github.com/pulsechat/pulsechat-server/internal/httputil"
)

// RequireAuth returns Fiber middleware that validates a JWT Bearer token from the Authorization header and stores
// the user ID in c.Locals("userID").
func RequireAuth(secret, issuer string) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return httputil.Fail(c, apierrors.New(apierrors.AuthInvalid, "Missing authorization header"))
		}

		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return httputil.Fail(c, apierrors.New(apierrors.AuthInvalid, "Invalid authorization format"))
		}
		tokenStr := header[len(prefix):]

		claims, err := ValidateAccessToken(tokenStr, secret, issuer)
		if err != nil {
			code := apierrors.AuthInvalid
			message := "Invalid token"

			if errors.Is(err, jwt.ErrTokenExpired) {
				code = apierrors.AuthExpired
				message = "Token has expired"
			}

			return httputil.Fail(c, apierrors.New(code, message))
		}

		c.Locals("userID", claims.UserID)
		c.Locals("username", claims.Username)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

// UserIDFromContext extracts the authenticated user's ID stored by RequireAuth. Panics if called on a route not
// protected by RequireAuth, since that is a programming error, not a runtime condition.
func UserIDFromContext(c fiber.Ctx) uuid.UUID {
	return c.Locals("userID").(uuid.UUID)
}
