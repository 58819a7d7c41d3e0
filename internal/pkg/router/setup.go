package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter installs the routers in order. Webhook routes go first so
// they are not covered by the API key middleware.
func InstallRouter(app *fiber.App, routers ...Router) {
	setup(app, routers...)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
