package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

const (
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCancelled  = "cancelled"
	SubscriptionStatusIncomplete = "incomplete"
)

var ErrInvalidPeriod = errors.New("subscription period end must be after period start")

// Subscription is the per-organization billing state. There is at most one
// row per organization and rows are never deleted; cancellation is a status.
type Subscription struct {
	ID                    uint         `gorm:"primaryKey" json:"id"`
	OrganizationID        uint         `gorm:"not null;uniqueIndex" json:"organization_id" validate:"required"`
	Plan                  plans.PlanID `gorm:"type:varchar(32);not null" json:"plan" validate:"required"`
	Status                string       `gorm:"type:varchar(20);not null;default:'trialing';index" json:"status" validate:"required,oneof=trialing active past_due cancelled incomplete"`
	GatewayCustomerID     string       `gorm:"type:varchar(191);default:'';index" json:"gateway_customer_id,omitempty"`
	GatewaySubscriptionID string       `gorm:"type:varchar(191);default:'';index" json:"gateway_subscription_id,omitempty"`
	GatewayPriceID        string       `gorm:"type:varchar(191);default:''" json:"gateway_price_id,omitempty"`
	CurrentPeriodStart    *time.Time   `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time   `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd     bool         `gorm:"default:false" json:"cancel_at_period_end"`
	CancelledAt           *time.Time   `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	TrialEnd              *time.Time   `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	LastEventAt           *time.Time   `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt             time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) Validate() error {
	v := validator.New()
	if err := v.Struct(s); err != nil {
		return err
	}
	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.After(*s.CurrentPeriodStart) {
		return ErrInvalidPeriod
	}
	return nil
}

// IsEntitling reports whether the subscribed plan's limits apply. Cancelled
// and incomplete subscriptions fall back to the entry tier.
func (s *Subscription) IsEntitling() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// HasPeriod reports whether both period boundaries are known.
func (s *Subscription) HasPeriod() bool {
	return s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil
}
