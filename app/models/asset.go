package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Asset is a registered provenance record. Live rows count against the
// assets limit; a soft-deleted row no longer does.
type Asset struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	OrganizationID      uint           `gorm:"not null;index" json:"organization_id"`
	Title               string         `gorm:"type:varchar(255);not null" json:"title" validate:"required,min=1,max=255"`
	Category            string         `gorm:"type:varchar(64);default:''" json:"category" validate:"max=64"`
	VIN                 string         `gorm:"type:varchar(17);default:''" json:"vin,omitempty" validate:"omitempty,len=17,alphanum"`
	MediaBytes          int64          `gorm:"not null;default:0" json:"media_bytes" validate:"gte=0"`
	CertificateIssuedAt *time.Time     `gorm:"type:timestamp;default:null" json:"certificate_issued_at,omitempty"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Asset) Validate() error {
	v := validator.New()
	return v.Struct(a)
}
