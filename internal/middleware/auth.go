package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
)

const (
	userContextKey    = "currentUserID"
	roleContextKey    = "currentRole"
	sessionContextKey = "currentSessionID"
)

// SessionVerifier is the part of the session service the middleware needs.
type SessionVerifier interface {
	Authenticate(ctx context.Context, accessToken string) (services.AuthContext, error)
	Refresh(ctx context.Context, refreshToken string) (utils.IssuedToken, services.AuthContext, error)
}

// AuthMiddleware accepts the access token from the access_token cookie or a
// Bearer header. When it is missing or expired but a valid refresh cookie is
// present, a new access cookie is issued and the request proceeds.
func AuthMiddleware(sessions SessionVerifier, cookies utils.CookieOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Nested groups may stack this middleware; authenticate once.
		if _, ok := GetCurrentUserID(c); ok {
			return c.Next()
		}

		if token := accessToken(c); token != "" {
			if auth, err := sessions.Authenticate(c.UserContext(), token); err == nil {
				setAuth(c, auth)
				return c.Next()
			}
		}

		refresh := c.Cookies(utils.RefreshCookie)
		if refresh == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}

		access, auth, err := sessions.Refresh(c.UserContext(), refresh)
		if err != nil {
			utils.ClearTokenCookies(c, cookies)
			return fiber.NewError(fiber.StatusUnauthorized, "session expired")
		}

		utils.SetTokenCookie(c, cookies, utils.AccessCookie, access)
		setAuth(c, auth)
		return c.Next()
	}
}

// RequireRole rejects callers whose role is not listed. Must run after AuthMiddleware.
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := GetCurrentRole(c)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "forbidden")
	}
}

func accessToken(c *fiber.Ctx) string {
	if token := c.Cookies(utils.AccessCookie); token != "" {
		return token
	}

	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func setAuth(c *fiber.Ctx, auth services.AuthContext) {
	c.Locals(userContextKey, auth.UserID)
	c.Locals(roleContextKey, auth.Role)
	c.Locals(sessionContextKey, auth.SessionID)
}

// GetCurrentUserID extracts the authenticated user ID from context.
func GetCurrentUserID(c *fiber.Ctx) (uuid.UUID, bool) {
	value := c.Locals(userContextKey)
	if value == nil {
		return uuid.Nil, false
	}

	if id, ok := value.(uuid.UUID); ok {
		return id, true
	}

	return uuid.Nil, false
}

// GetCurrentRole returns the role carried by the access token.
func GetCurrentRole(c *fiber.Ctx) models.Role {
	role, _ := c.Locals(roleContextKey).(models.Role)
	return role
}

// GetSessionID returns the session behind the current request.
func GetSessionID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(sessionContextKey).(uuid.UUID)
	return id, ok
}
