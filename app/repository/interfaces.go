package repository

import (
	"github.com/genesis-provenance/genesis/app/models"
	"gorm.io/gorm"
)

// OrganizationRepository defines tenant lookups and API key bookkeeping
type OrganizationRepository interface {
	Create(org *models.Organization) error
	GetByID(id uint) (*models.Organization, error)
	GetByAPIKeyHash(hash string) (*models.Organization, error)
	Update(org *models.Organization) error
	TouchAPIKeyUsage(id uint) error
}

// AssetRepository defines operations on registered assets
type AssetRepository interface {
	Create(asset *models.Asset) error
	GetByID(orgID, id uint) (*models.Asset, error)
	ListByOrganization(orgID uint, offset, limit int) ([]models.Asset, error)
	Delete(orgID, id uint) error
	CountByOrganization(orgID uint) (int64, error)
	SumMediaBytes(orgID uint) (int64, error)
	MarkCertificateIssued(orgID, id uint) error
}

// MemberRepository defines operations on organization team members
type MemberRepository interface {
	Create(member *models.OrganizationMember) error
	ListByOrganization(orgID uint) ([]models.OrganizationMember, error)
	ExistsByEmail(orgID uint, email string) (bool, error)
	Delete(orgID, id uint) error
	CountByOrganization(orgID uint) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Organization OrganizationRepository
	Asset        AssetRepository
	Member       MemberRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Organization: NewOrganizationRepository(db),
		Asset:        NewAssetRepository(db),
		Member:       NewMemberRepository(db),
	}
}
