package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/content"
)

// Middleware returns a Fiber middleware that validates JWT tokens
// and sets the caller Identity on the request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return content.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return content.UnauthorizedError("Invalid auth header format")
		}

		claims, err := VerifyAccessToken(parts[1], secret)
		if err != nil {
			return content.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &content.Identity{
			ID:    claims.Subject,
			Roles: claims.Roles,
		})

		return c.Next()
	}
}

// OptionalMiddleware resolves the caller identity when a valid token is
// present and continues anonymously otherwise. Handlers behind it enforce
// their own access rules.
func OptionalMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user := ResolveIdentity(c.Get("Authorization"), secret); user != nil {
			c.Locals("user", user)
		}
		return c.Next()
	}
}

// RequireAdmin is a Fiber middleware that checks the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := content.GetUser(c)
		if user == nil {
			return content.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() {
			return content.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}
