package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORS allows browser dashboards to call the management API. An empty
// allowedOrigins list allows any origin.
func CORS(allowedOrigins []string) fiber.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		switch {
		case len(allowed) == 0:
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		case origin != "":
			if _, ok := allowed[origin]; !ok {
				break
			}
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Vary(fiber.HeaderOrigin)
		}
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, PATCH, DELETE, OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Origin, Content-Type, Accept, Authorization, X-Link-Password, "+OwnerIDHeader)
		c.Set(fiber.HeaderAccessControlExposeHeaders, "Content-Length, Content-Type, "+RequestIDHeader)
		c.Set(fiber.HeaderAccessControlMaxAge, "86400")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}
