package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/genesis-provenance/genesis/app/controllers"
	"github.com/genesis-provenance/genesis/internal/pkg/constants"
	"github.com/genesis-provenance/genesis/internal/pkg/env"
)

// AdminRouter serves operator endpoints: tenant administration, Prometheus
// metrics and the fiber monitor. All of it sits behind basic auth.
type AdminRouter struct {
	admin *controllers.AdminController
	users map[string]string
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	if len(h.users) == 0 {
		log.Warn("[Admin] ADMIN_USER/ADMIN_PASSWORD not set, admin and metrics routes are disabled")
		return
	}
	auth := basicauth.New(basicauth.Config{Users: h.users})

	app.Get(constants.MetricsRoute, auth, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get(constants.MonitorRoute, auth, monitor.New(monitor.Config{Title: "Genesis Metrics"}))

	adminGroup := app.Group(constants.AdminRoute, auth)
	adminGroup.Get("/plans", h.admin.HandleListPlans)
	adminGroup.Post("/organizations", h.admin.HandleCreateOrganization)
	adminGroup.Post("/organizations/:id/api-key", h.admin.HandleRotateAPIKey)
	adminGroup.Get("/organizations/:id/subscription", h.admin.HandleGetSubscription)
	adminGroup.Put("/organizations/:id/subscription", h.admin.HandleSetSubscription)
	adminGroup.Post("/organizations/:id/statements", h.admin.HandleScheduleStatement)
}

func NewAdminRouter(admin *controllers.AdminController, users map[string]string) *AdminRouter {
	return &AdminRouter{admin: admin, users: users}
}

// AdminUsersFromEnv returns the basic auth users, or nil when no password is
// configured.
func AdminUsersFromEnv() map[string]string {
	password := env.GetEnv("ADMIN_PASSWORD", "")
	if password == "" {
		return nil
	}
	return map[string]string{env.GetEnv("ADMIN_USER", "admin"): password}
}
