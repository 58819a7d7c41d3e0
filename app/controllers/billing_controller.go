package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
)

// EventApplier applies a decoded gateway event to the subscription record.
type EventApplier interface {
	Apply(ctx context.Context, ev billing.Event) (billing.Outcome, error)
}

type BillingController struct {
	svc           *billing.Service
	sync          EventApplier
	webhookSecret string
}

func NewBillingController(svc *billing.Service, sync EventApplier, webhookSecret string) *BillingController {
	return &BillingController{svc: svc, sync: sync, webhookSecret: webhookSecret}
}

// HandleStripeWebhook verifies, records and applies one Stripe delivery.
// Non-2xx answers make Stripe redeliver, so only infrastructure failures
// return 500.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	event, err := billing.VerifyStripeEvent(rawBody, c.Get("Stripe-Signature"), bc.webhookSecret)
	if err != nil {
		if errors.Is(err, billing.ErrWebhookSecretNotSet) {
			log.Error("[Billing] STRIPE_WEBHOOK_SECRET is not set, rejecting webhook")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
		}
		log.Warnf("[Billing] rejected webhook from %s: %v", c.IP(), err)
		metrics.ObserveWebhook("unverified", "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	created, stored, err := bc.svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:       models.WebhookProviderStripe,
		GatewayEventID: event.ID,
		EventType:      string(event.Type),
		PayloadJSON:    string(rawBody),
	})
	if err != nil {
		log.Errorf("[Billing] persist webhook %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.Handled() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	decoded, err := billing.DecodeEvent(event)
	if err != nil {
		bc.mark(ctx, stored.ID, billing.WebhookResult{Outcome: models.WebhookOutcomeDropped, Reason: "malformed payload", Err: err})
		metrics.ObserveWebhook("malformed", models.WebhookOutcomeDropped)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	outcome, applyErr := bc.sync.Apply(ctx, decoded)
	result := billing.WebhookResult{Outcome: outcome.Result, Reason: outcome.Reason, Err: applyErr}
	if outcome.OrganizationID != 0 {
		orgID := outcome.OrganizationID
		result.OrganizationID = &orgID
	}
	if applyErr != nil {
		result.Outcome = models.WebhookOutcomeFailed
	}
	bc.mark(ctx, stored.ID, result)
	metrics.ObserveWebhook(string(decoded.Kind()), result.Outcome)

	if applyErr != nil {
		log.Errorf("[Billing] apply webhook %s (%s): %v", event.ID, event.Type, applyErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_sync_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": result.Outcome})
}

func (bc *BillingController) mark(ctx context.Context, id uint, result billing.WebhookResult) {
	if err := bc.svc.MarkWebhookProcessed(ctx, id, result); err != nil {
		log.Errorf("[Billing] mark webhook %d processed: %v", id, err)
	}
}
