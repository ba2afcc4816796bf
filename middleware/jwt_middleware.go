package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mailcache/utils"
)

// Protected verifies the bearer token (or the access_token cookie) and stores
// the claims under "claims" and the principal email under "principal".
func Protected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"status":  "fail",
					"message": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			// Fall back to cookie if header not present
			token = c.Cookies("access_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"status":  "fail",
					"message": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(token, secret)
		if err != nil || claims.Email == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status":  "fail",
				"message": "Invalid or expired token",
			})
		}

		c.Locals("claims", claims)
		c.Locals("principal", claims.Email)
		return c.Next()
	}
}

// Principal returns the authenticated email set by Protected.
func Principal(c *fiber.Ctx) string {
	p, _ := c.Locals("principal").(string)
	return p
}
