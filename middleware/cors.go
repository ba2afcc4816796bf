package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const corsMaxAge = 3600

var (
	corsMethods = strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodDelete, fiber.MethodOptions}, ",")
	corsHeaders = strings.Join([]string{fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAccept, fiber.HeaderAuthorization}, ",")
	// attachment downloads need the filename visible to the browser
	corsExposed = strings.Join([]string{fiber.HeaderContentLength, fiber.HeaderContentDisposition}, ",")
)

// CORS echoes back an allowed Origin with credentials enabled, since the
// access_token cookie authenticates browser clients. An empty list allows
// any origin without credentials.
func CORS(origins []string) fiber.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		switch {
		case len(allowed) == 0:
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		case allowed[origin]:
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
		}
		c.Vary(fiber.HeaderOrigin)

		if c.Method() != fiber.MethodOptions {
			return c.Next()
		}
		c.Set(fiber.HeaderAccessControlAllowMethods, corsMethods)
		c.Set(fiber.HeaderAccessControlAllowHeaders, corsHeaders)
		c.Set(fiber.HeaderAccessControlExposeHeaders, corsExposed)
		c.Set(fiber.HeaderAccessControlMaxAge, strconv.Itoa(corsMaxAge))
		return c.SendStatus(fiber.StatusNoContent)
	}
}
