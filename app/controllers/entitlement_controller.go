package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

type EntitlementController struct {
	checker AccessChecker
}

func NewEntitlementController(checker AccessChecker) *EntitlementController {
	return &EntitlementController{checker: checker}
}

// HandleCheckEntitlement reports whether the calling organization may use
// one more unit of the feature. Denials are answered with 402.
func (ec *EntitlementController) HandleCheckEntitlement(c *fiber.Ctx) error {
	orgID := organizationID(c)
	feature := plans.Feature(strings.TrimSpace(c.Params("feature")))

	ctx, cancel := requestContext(c)
	defer cancel()

	d, err := ec.checker.CheckAccess(ctx, orgID, feature)
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	if !d.Allowed {
		return upgradeRequired(c, d)
	}
	return c.Status(fiber.StatusOK).JSON(d)
}
