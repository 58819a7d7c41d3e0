package models

import "time"

const WebhookProviderStripe = "stripe"

const (
	WebhookOutcomeApplied = "applied"
	WebhookOutcomeDropped = "dropped"
	WebhookOutcomeIgnored = "ignored"
	WebhookOutcomeFailed  = "failed"
)

// BillingWebhookEvent is the delivery log for verified gateway events. The
// unique (provider, gateway_event_id) pair lets redeliveries be detected.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1" json:"provider"`
	GatewayEventID  string     `gorm:"type:varchar(191);not null;index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"gateway_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	OrganizationID  *uint      `gorm:"index" json:"organization_id,omitempty"`
	PayloadJSON     string     `gorm:"type:text;not null" json:"-"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	Outcome         string     `gorm:"type:varchar(20);default:''" json:"outcome"`
	OutcomeReason   string     `gorm:"type:varchar(255);default:''" json:"outcome_reason,omitempty"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Handled reports whether an earlier delivery finished without error.
func (e *BillingWebhookEvent) Handled() bool {
	return e.ProcessedAt != nil && e.Outcome != WebhookOutcomeFailed
}
