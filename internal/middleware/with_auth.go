package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// AuthOptions configures WithAuth.
type AuthOptions struct {
	Role string
}

// WithAuth wraps a single handler with an authentication and role guard. Unlike RequireTeacher
// it also rejects requests that reached the handler without a user id.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	required := normalizeRoleValue(opts.Role)

	return func(c *fiber.Ctx) error {
		if UserID(c) == 0 {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if !roleSatisfies(required, UserRole(c)) {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return handler(c)
	}
}
