package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers so API and tests share one implementation
	"github.com/genesis-provenance/genesis/app/controllers"
)

// Pong is the liveness answer of GET /ping.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer serves the tenant facing v1 API. Authentication is attached by
// the router before RegisterHandlers runs.
type APIServer struct {
	Entitlements *controllers.EntitlementController
	Usage        *controllers.UsageController
	Assets       *controllers.AssetController
	Members      *controllers.MemberController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(ent *controllers.EntitlementController, usage *controllers.UsageController, assets *controllers.AssetController, members *controllers.MemberController) *APIServer {
	return &APIServer{Entitlements: ent, Usage: usage, Assets: assets, Members: members}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// RegisterHandlers mounts every v1 route onto router.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	router.Get("/entitlements/:feature", s.Entitlements.HandleCheckEntitlement)

	router.Get("/usage/summary", s.Usage.HandleGetUsageSummary)
	router.Post("/usage", s.Usage.HandleRecordUsage)
	router.Post("/usage/consume", s.Usage.HandleConsumeUsage)

	router.Get("/assets", s.Assets.HandleListAssets)
	router.Post("/assets", s.Assets.HandleCreateAsset)
	router.Delete("/assets/:id", s.Assets.HandleDeleteAsset)
	router.Post("/assets/:id/certificate", s.Assets.HandleIssueCertificate)

	router.Get("/members", s.Members.HandleListMembers)
	router.Post("/members", s.Members.HandleAddMember)
	router.Delete("/members/:id", s.Members.HandleRemoveMember)
}
