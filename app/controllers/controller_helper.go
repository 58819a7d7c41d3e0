package controllers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/entitlements"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/tenantcontext"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

const requestTimeout = 15 * time.Second

var validate = validator.New()

// AccessChecker answers entitlement questions without writing.
type AccessChecker interface {
	CheckAccess(ctx context.Context, orgID uint, feature plans.Feature) (entitlements.Decision, error)
	CheckAccessN(ctx context.Context, orgID uint, feature plans.Feature, need int64) (entitlements.Decision, error)
}

// QuotaConsumer admits a metered action and records it in one transaction.
type QuotaConsumer interface {
	Consume(ctx context.Context, orgID uint, feature plans.Feature, count int64, metadata map[string]interface{}, action func(tx *gorm.DB) error) (entitlements.Decision, *models.UsageLogEntry, error)
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// upgradeRequired renders a denied decision as 402 Payment Required.
func upgradeRequired(c *fiber.Ctx, d entitlements.Decision) error {
	msg := fmt.Sprintf("The %s plan allows %d %s", d.PlanName, d.Limit, d.LimitKey)
	if d.UpgradeRequired {
		msg += "; upgrade to continue"
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":            "upgrade_required",
		"message":          msg,
		"feature":          d.Feature,
		"plan":             d.Plan,
		"limit":            d.Limit,
		"current":          d.Current,
		"remaining":        d.Remaining,
		"upgrade_required": d.UpgradeRequired,
	})
}

// entitlementError maps errors from the entitlement and usage packages onto
// the JSON error envelope.
func entitlementError(c *fiber.Ctx, orgID uint, err error) error {
	switch {
	case errors.Is(err, entitlements.ErrUnknownFeature):
		return jsonError(c, fiber.StatusBadRequest, "unknown_feature", err.Error())
	case errors.Is(err, entitlements.ErrStandingFeature):
		return jsonError(c, fiber.StatusBadRequest, "standing_feature", "This feature is consumed by creating the resource it counts")
	case errors.Is(err, usage.ErrInvalidCount):
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "count must be positive")
	case errors.Is(err, entitlements.ErrOrganizationNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Organization not found")
	case errors.Is(err, plans.ErrUnknownPlan):
		log.Errorf("[Usage] organization %d has an unusable plan: %v", orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "plan_misconfigured", "Subscription references an unknown plan")
	default:
		log.Errorf("[Usage] request for organization %d failed: %v", orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Entitlement check failed")
	}
}

func validationError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", fmt.Sprintf("field %s failed %s", verrs[0].Field(), verrs[0].Tag()))
	}
	return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func organizationID(c *fiber.Ctx) uint {
	return tenantcontext.GetOrganizationID(c)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
