package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-classroom-api/internal/utils"
)

// Locals keys populated by JWTProtected.
const (
	LocalUserID   = "user_id"
	LocalUserRole = "user_role"
)

var errInvalidSubject = errors.New("invalid subject")

// JWTProtected validates HS256/384/512 bearer tokens and stores the caller's id and role in
// the request locals. Tokens are only verified here, never issued.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *fiber.Ctx) error {
		authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authorization == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "authorization header missing", nil)
		}

		scheme, tokenString, ok := strings.Cut(authorization, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenString) == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid authorization header", nil)
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, keyFunc)
		if err != nil || !token.Valid {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid token", nil)
		}

		userID, ok := extractUserIDFromClaims(claims)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "invalid token claims", nil)
		}
		c.Locals(LocalUserID, userID)
		if role := extractUserRoleFromClaims(claims); role != "" {
			c.Locals(LocalUserRole, role)
		}

		return c.Next()
	}
}

// UserID returns the authenticated user id, or zero for anonymous requests.
func UserID(c *fiber.Ctx) uint {
	switch id := c.Locals(LocalUserID).(type) {
	case uint:
		return id
	case int:
		if id > 0 {
			return uint(id)
		}
	}
	return 0
}

// UserRole returns the normalised role of the authenticated user.
func UserRole(c *fiber.Ctx) string {
	return normalizeRoleValue(c.Locals(LocalUserRole))
}

func extractUserIDFromClaims(claims jwt.MapClaims) (uint, bool) {
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		if normalized, err := normalizeUserID(value); err == nil && normalized > 0 {
			return normalized, true
		}
	}
	return 0, false
}

func normalizeUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, errInvalidSubject
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errInvalidSubject, err)
		}
		return uint(parsed), nil
	default:
		return 0, errInvalidSubject
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			if role := normalizeRoleValue(v); role != "" {
				return role
			}
		case []interface{}:
			for _, item := range v {
				if role := normalizeRoleValue(item); role != "" {
					return role
				}
			}
		}
	}
	return ""
}
