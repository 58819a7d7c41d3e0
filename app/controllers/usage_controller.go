package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/genesis-provenance/genesis/internal/pkg/entitlements"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

// SummaryReader returns the usage summary, possibly from cache.
type SummaryReader interface {
	UsageSummary(ctx context.Context, orgID uint) (entitlements.Summary, error)
}

// UsageRecorder appends a ledger entry after an action was performed.
type UsageRecorder interface {
	Record(ctx context.Context, orgID uint, feature plans.Feature, count int64, metadata map[string]interface{}) (usage.Result, error)
}

type UsageController struct {
	summary  SummaryReader
	recorder UsageRecorder
	consumer QuotaConsumer
}

func NewUsageController(summary SummaryReader, recorder UsageRecorder, consumer QuotaConsumer) *UsageController {
	return &UsageController{summary: summary, recorder: recorder, consumer: consumer}
}

type usageRequest struct {
	Feature  string                 `json:"feature" validate:"required,max=32"`
	Count    int64                  `json:"count" validate:"gte=0"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (uc *UsageController) HandleGetUsageSummary(c *fiber.Ctx) error {
	orgID := organizationID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	s, err := uc.summary.UsageSummary(ctx, orgID)
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	return c.Status(fiber.StatusOK).JSON(s)
}

// HandleRecordUsage logs usage for an action the caller already performed.
// Entries parked in the pending buffer are answered with 202.
func (uc *UsageController) HandleRecordUsage(c *fiber.Ctx) error {
	orgID := organizationID(c)
	var req usageRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := uc.recorder.Record(ctx, orgID, plans.Feature(req.Feature), req.Count, req.Metadata)
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	status := fiber.StatusCreated
	if res.Deferred {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"entry": res.Entry, "deferred": res.Deferred})
}

// HandleConsumeUsage checks and records in one step, so concurrent callers
// cannot overrun the limit.
func (uc *UsageController) HandleConsumeUsage(c *fiber.Ctx) error {
	orgID := organizationID(c)
	var req usageRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	d, entry, err := uc.consumer.Consume(ctx, orgID, plans.Feature(req.Feature), req.Count, req.Metadata, nil)
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	if !d.Allowed {
		log.Infof("[Usage] organization %d denied %s: %d/%d", orgID, d.Feature, d.Current, d.Limit)
		return upgradeRequired(c, d)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"decision": d, "entry": entry})
}
