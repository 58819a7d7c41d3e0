package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/genesis-provenance/genesis/internal/pkg/tenantcontext"
)

// RequireTenant rejects requests that did not resolve to an organization.
func RequireTenant(c *fiber.Ctx) error {
	if !tenantcontext.IsAuthenticated(c) || tenantcontext.GetOrganizationID(c) == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "organization API key required",
		})
	}
	return c.Next()
}
