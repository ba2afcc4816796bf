package controller

import (
	"github.com/gofiber/fiber/v2"

	"mailcache/utils"
)

// GetCurrentUser returns the identity carried by the verified token.
func GetCurrentUser(c *fiber.Ctx) error {
	claims, ok := c.Locals("claims").(*utils.Claims)
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Authorization required", nil)
	}

	user := fiber.Map{
		"email": claims.Email,
		"name":  claims.Name,
	}
	if claims.ExpiresAt != nil {
		user["expires_at"] = claims.ExpiresAt.Time
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   user,
	})
}
