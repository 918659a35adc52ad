package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// Classroom roles carried in the JWT "role" claim. AuthRoleAny matches every authenticated user.
const (
	AuthRoleAny     = "any"
	AuthRoleStudent = "student"
	AuthRoleTeacher = "teacher"
	AuthRoleAdmin   = "admin"
)

// RequireTeacher admits teachers and admins, who share the authoring and grading surface.
func RequireTeacher() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !roleSatisfies(AuthRoleTeacher, UserRole(c)) {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return c.Next()
	}
}

// roleSatisfies reports whether a caller holding current may use a route that requires required.
// Admins pass every teacher check; nobody but a student passes a student check.
func roleSatisfies(required, current string) bool {
	switch required {
	case "", AuthRoleAny:
		return true
	case AuthRoleTeacher:
		return current == AuthRoleTeacher || current == AuthRoleAdmin
	default:
		return current != "" && current == required
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
