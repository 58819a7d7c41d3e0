package tenantcontext

import "github.com/gofiber/fiber/v2"

// Locals keys shared by middlewares and controllers
const (
	KeyTenantContext  = "TENANT_CONTEXT"
	KeyOrganizationID = "organization_id"
)

// TenantContext identifies the organization a request acts for
type TenantContext struct {
	OrganizationID   uint   `json:"organization_id"`
	OrganizationName string `json:"organization_name"`
	APIKeyPrefix     string `json:"api_key_prefix"`
	Authenticated    bool   `json:"authenticated"`
}

// Set stores tc on the request
func Set(c *fiber.Ctx, tc TenantContext) {
	c.Locals(KeyTenantContext, tc)
	c.Locals(KeyOrganizationID, tc.OrganizationID)
}

// Get returns the tenant context, or an unauthenticated zero value
func Get(c *fiber.Ctx) TenantContext {
	if tc, ok := c.Locals(KeyTenantContext).(TenantContext); ok {
		return tc
	}
	return TenantContext{}
}

func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).Authenticated
}

// GetOrganizationID returns the current organization id, or 0
func GetOrganizationID(c *fiber.Ctx) uint {
	return Get(c).OrganizationID
}
