package constants

// Route constants
const (
	APIRoute           = "/api"
	APIV1Route         = "/v1"
	AdminRoute         = "/admin"
	StripeWebhookRoute = "/webhooks/stripe"
	MetricsRoute       = "/metrics"
	MonitorRoute       = "/monitor"
	HealthRoute        = "/healthz"
	// Swagger UI base path, must end with a slash
	DocsRoute = "/docs/api/"
)
