package middlewares

import (
	"context"
	"strings"

	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/gofiber/fiber/v2"
)

// Authenticator resolves a session token to a live user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// SessionAuth requires a valid session token and stores the user in c.Locals("user").
func SessionAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization")
		}
		u, err := auth.Authenticate(c.UserContext(), strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired session")
		}
		c.Locals("user", u)
		return c.Next()
	}
}
