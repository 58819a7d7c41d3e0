package billing

import (
	"time"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// virtualPeriodDays is the length of the billing window assumed for
// organizations without persisted period boundaries.
const virtualPeriodDays = 30

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// VirtualPeriod is the sliding window used when no period is stored: the 30
// days ending at the close of the current UTC day, so activity recorded "now"
// always falls inside it.
func VirtualPeriod(now time.Time) Period {
	y, m, d := now.UTC().Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Period{Start: end.AddDate(0, 0, -virtualPeriodDays), End: end}
}

// Resolved is a subscription as seen by entitlement checks. Virtual is true
// when no row exists and the entry tier trial default was synthesized.
type Resolved struct {
	Subscription models.Subscription
	Virtual      bool
	// Plan is the plan whose limits apply; cancelled and incomplete
	// subscriptions resolve to the entry tier.
	Plan   plans.Plan
	Period Period
}

// SubscriptionID returns the row id, or nil for the virtual default.
func (r Resolved) SubscriptionID() *uint {
	if r.Virtual || r.Subscription.ID == 0 {
		return nil
	}
	id := r.Subscription.ID
	return &id
}

// SubscriptionInput is an explicit admin write of an organization's
// subscription, used for seeding and manual corrections.
type SubscriptionInput struct {
	OrganizationID    uint
	Plan              string
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
}

// WebhookEventInput carries a verified gateway event for the delivery log.
type WebhookEventInput struct {
	Provider       string
	GatewayEventID string
	EventType      string
	PayloadJSON    string
}

// WebhookResult is what gets written back to the delivery log.
type WebhookResult struct {
	Outcome        string
	Reason         string
	OrganizationID *uint
	Err            error
}
