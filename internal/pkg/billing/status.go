package billing

import (
	"strings"

	"github.com/genesis-provenance/genesis/app/models"
)

// MapGatewayStatus converts a gateway subscription status into the internal
// enum. Anything not recognized becomes incomplete.
func MapGatewayStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due":
		return models.SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return models.SubscriptionStatusCancelled
	default:
		return models.SubscriptionStatusIncomplete
	}
}
