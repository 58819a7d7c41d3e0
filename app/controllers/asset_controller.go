package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	"github.com/genesis-provenance/genesis/internal/pkg/entitlements"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

const (
	defaultAssetPageSize = 50
	maxAssetPageSize     = 200
	bytesPerGB           = 1 << 30
)

// storageGBNeeded rounds media up to whole gigabytes.
func storageGBNeeded(mediaBytes int64) int64 {
	return (mediaBytes + bytesPerGB - 1) / bytesPerGB
}

type AssetController struct {
	consumer    QuotaConsumer
	checker     AccessChecker
	assets      repository.AssetRepository
	invalidator usage.Invalidator
}

func NewAssetController(consumer QuotaConsumer, checker AccessChecker, assets repository.AssetRepository, invalidator usage.Invalidator) *AssetController {
	return &AssetController{consumer: consumer, checker: checker, assets: assets, invalidator: invalidator}
}

type createAssetRequest struct {
	Title      string `json:"title" validate:"required,min=1,max=255"`
	Category   string `json:"category" validate:"max=64"`
	VIN        string `json:"vin" validate:"omitempty,len=17,alphanum"`
	MediaBytes int64  `json:"media_bytes" validate:"gte=0"`
}

// HandleCreateAsset registers an asset if the assets quota has room. Assets
// carrying media also need headroom in the storage quota.
func (ac *AssetController) HandleCreateAsset(c *fiber.Ctx) error {
	orgID := organizationID(c)
	var req createAssetRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if req.MediaBytes > 0 {
		d, err := ac.checker.CheckAccessN(ctx, orgID, plans.FeatureStorageUsed, storageGBNeeded(req.MediaBytes))
		if err != nil {
			return entitlementError(c, orgID, err)
		}
		if !d.Allowed {
			return upgradeRequired(c, d)
		}
	}

	asset := models.Asset{
		OrganizationID: orgID,
		Title:          req.Title,
		Category:       req.Category,
		VIN:            req.VIN,
		MediaBytes:     req.MediaBytes,
	}
	d, _, err := ac.consumer.Consume(ctx, orgID, plans.FeatureAssetCreated, 1,
		map[string]interface{}{"title": req.Title},
		func(tx *gorm.DB) error {
			return repository.NewAssetRepository(tx).Create(&asset)
		})
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	if !d.Allowed {
		return upgradeRequired(c, d)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"asset": asset, "entitlement": d})
}

func (ac *AssetController) HandleListAssets(c *fiber.Ctx) error {
	orgID := organizationID(c)
	limit := c.QueryInt("limit", defaultAssetPageSize)
	if limit <= 0 || limit > maxAssetPageSize {
		limit = defaultAssetPageSize
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	assets, err := ac.assets.ListByOrganization(orgID, offset, limit)
	if err != nil {
		log.Errorf("[Usage] list assets for organization %d: %v", orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load assets")
	}
	return c.JSON(fiber.Map{"assets": assets, "offset": offset, "limit": limit})
}

// HandleDeleteAsset soft-deletes an asset, freeing one unit of the quota.
func (ac *AssetController) HandleDeleteAsset(c *fiber.Ctx) error {
	orgID := organizationID(c)
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid asset id")
	}

	if err := ac.assets.Delete(orgID, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Asset not found")
		}
		log.Errorf("[Usage] delete asset %d for organization %d: %v", id, orgID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to delete asset")
	}
	ac.invalidate(c.UserContext(), orgID)
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleIssueCertificate issues the PDF certificate for an asset. Issuing is
// gated on the assets limit and recorded in the ledger.
func (ac *AssetController) HandleIssueCertificate(c *fiber.Ctx) error {
	orgID := organizationID(c)
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid asset id")
	}

	asset, err := ac.assets.GetByID(orgID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Asset not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load asset")
	}
	if asset.CertificateIssuedAt != nil {
		return c.JSON(fiber.Map{"asset": asset, "already_issued": true})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	d, _, err := ac.consumer.Consume(ctx, orgID, plans.FeaturePDFCertificate, 1,
		map[string]interface{}{"asset_id": id},
		func(tx *gorm.DB) error {
			return repository.NewAssetRepository(tx).MarkCertificateIssued(orgID, id)
		})
	if err != nil {
		return entitlementError(c, orgID, err)
	}
	if !d.Allowed {
		return upgradeRequired(c, d)
	}

	asset, err = ac.assets.GetByID(orgID, id)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load asset")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"asset": asset, "entitlement": d})
}

func (ac *AssetController) invalidate(ctx context.Context, orgID uint) {
	if ac.invalidator != nil {
		ac.invalidator.Invalidate(ctx, orgID)
	}
}

var _ AccessChecker = (*entitlements.Checker)(nil)
var _ QuotaConsumer = (*entitlements.Consumer)(nil)
