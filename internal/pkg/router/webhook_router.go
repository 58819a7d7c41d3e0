package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/genesis-provenance/genesis/app/controllers"
	"github.com/genesis-provenance/genesis/internal/pkg/constants"
)

// WebhookRouter serves gateway callbacks. They authenticate by signature,
// not by API key.
type WebhookRouter struct {
	billing *controllers.BillingController
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post(constants.StripeWebhookRoute, h.billing.HandleStripeWebhook)
}

func NewWebhookRouter(billing *controllers.BillingController) *WebhookRouter {
	return &WebhookRouter{billing: billing}
}
