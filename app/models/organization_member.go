package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

type OrganizationMember struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"not null;index:idx_org_members_org_email,priority:1" json:"organization_id"`
	Email          string         `gorm:"type:varchar(255);not null;index:idx_org_members_org_email,priority:2" json:"email" validate:"required,email,max=255"`
	Role           string         `gorm:"type:varchar(20);not null;default:'member'" json:"role" validate:"required,oneof=owner admin member"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *OrganizationMember) Validate() error {
	v := validator.New()
	return v.Struct(m)
}
