package repository

import (
	"strings"

	"github.com/genesis-provenance/genesis/app/models"
	"gorm.io/gorm"
)

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(member *models.OrganizationMember) error {
	member.Email = strings.ToLower(strings.TrimSpace(member.Email))
	if err := member.Validate(); err != nil {
		return err
	}
	return r.db.Create(member).Error
}

func (r *memberRepository) ListByOrganization(orgID uint) ([]models.OrganizationMember, error) {
	var members []models.OrganizationMember
	err := r.db.Where("organization_id = ?", orgID).Order("created_at ASC").Find(&members).Error
	return members, err
}

func (r *memberRepository) ExistsByEmail(orgID uint, email string) (bool, error) {
	var n int64
	err := r.db.Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND email = ?", orgID, strings.ToLower(strings.TrimSpace(email))).
		Count(&n).Error
	return n > 0, err
}

func (r *memberRepository) Delete(orgID, id uint) error {
	res := r.db.Where("organization_id = ?", orgID).Delete(&models.OrganizationMember{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *memberRepository) CountByOrganization(orgID uint) (int64, error) {
	return countMembers(r.db, orgID)
}

func countMembers(db *gorm.DB, orgID uint) (int64, error) {
	var n int64
	err := db.Model(&models.OrganizationMember{}).Where("organization_id = ?", orgID).Count(&n).Error
	return n, err
}
