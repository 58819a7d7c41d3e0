package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// UsageLogEntry is one append-only ledger row. PeriodStart and PeriodEnd are
// copied from the subscription at write time so entries stay attributable
// after the subscription rolls over.
type UsageLogEntry struct {
	ID             uint              `gorm:"primaryKey" json:"-"`
	UUID           string            `gorm:"type:char(36);uniqueIndex;not null" json:"id"`
	OrganizationID uint              `gorm:"not null;index:idx_usage_org_feature_created,priority:1" json:"organization_id"`
	SubscriptionID *uint             `gorm:"index" json:"subscription_id,omitempty"`
	Feature        plans.Feature     `gorm:"type:varchar(32);not null;index:idx_usage_org_feature_created,priority:2" json:"feature"`
	Count          int64             `gorm:"not null;default:1" json:"count"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	PeriodStart    time.Time         `gorm:"type:timestamp;not null" json:"period_start"`
	PeriodEnd      time.Time         `gorm:"type:timestamp;not null" json:"period_end"`
	CreatedAt      time.Time         `gorm:"autoCreateTime;index:idx_usage_org_feature_created,priority:3" json:"created_at"`
}

func (e *UsageLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == "" {
		e.UUID = uuid.New().String()
	}
	if e.Count == 0 {
		e.Count = 1
	}
	return nil
}
