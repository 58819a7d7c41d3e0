package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/genesis-provenance/genesis/app/repository"
	apiv1 "github.com/genesis-provenance/genesis/internal/api/v1"
	"github.com/genesis-provenance/genesis/internal/pkg/constants"
	"github.com/genesis-provenance/genesis/internal/pkg/middleware"
)

type ApiRouter struct {
	server  *apiv1.APIServer
	orgs    repository.OrganizationRepository
	limiter LimiterConfig
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Genesis usage API",
		})
	})

	// API v1 routes, rate limited per API key after tenant resolution
	v1 := api.Group(constants.APIV1Route,
		middleware.APIKeyAuthMiddleware(h.orgs),
		middleware.RequireTenant,
		NewRateLimiter(h.limiter),
	)
	apiv1.RegisterHandlers(v1, h.server)
}

func NewApiRouter(server *apiv1.APIServer, orgs repository.OrganizationRepository, limiter LimiterConfig) *ApiRouter {
	return &ApiRouter{server: server, orgs: orgs, limiter: limiter}
}
