package repository

import (
	"time"

	"github.com/genesis-provenance/genesis/app/models"
	"gorm.io/gorm"
)

type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new asset repository instance
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(asset *models.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	return r.db.Create(asset).Error
}

// GetByID only returns assets owned by orgID.
func (r *assetRepository) GetByID(orgID, id uint) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.Where("organization_id = ?", orgID).First(&asset, id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) ListByOrganization(orgID uint, offset, limit int) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&assets).Error
	return assets, err
}

// Delete soft-deletes the asset, which immediately frees one unit of the
// assets quota.
func (r *assetRepository) Delete(orgID, id uint) error {
	res := r.db.Where("organization_id = ?", orgID).Delete(&models.Asset{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *assetRepository) CountByOrganization(orgID uint) (int64, error) {
	return countAssets(r.db, orgID)
}

func (r *assetRepository) SumMediaBytes(orgID uint) (int64, error) {
	return sumMediaBytes(r.db, orgID)
}

func (r *assetRepository) MarkCertificateIssued(orgID, id uint) error {
	res := r.db.Model(&models.Asset{}).
		Where("organization_id = ? AND id = ?", orgID, id).
		Update("certificate_issued_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func countAssets(db *gorm.DB, orgID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Asset{}).Where("organization_id = ?", orgID).Count(&n).Error
	return n, err
}

func sumMediaBytes(db *gorm.DB, orgID uint) (int64, error) {
	var total int64
	err := db.Model(&models.Asset{}).
		Where("organization_id = ?", orgID).
		Select("COALESCE(SUM(media_bytes), 0)").
		Scan(&total).Error
	return total, err
}
