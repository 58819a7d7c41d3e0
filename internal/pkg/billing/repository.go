package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/genesis-provenance/genesis/app/models"
)

// Columns rewritten when a gateway event upserts a subscription.
var syncColumns = []string{
	"plan",
	"status",
	"gateway_customer_id",
	"gateway_subscription_id",
	"gateway_price_id",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"cancelled_at",
	"trial_end",
	"last_event_at",
	"updated_at",
}

// Columns an admin write may change. Gateway references stay untouched.
var adminColumns = []string{
	"plan",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"cancelled_at",
	"trial_end",
	"updated_at",
}

// Repository provides DB operations used by the billing service.
type Repository interface {
	OrganizationExists(ctx context.Context, orgID uint) (bool, error)
	GetSubscriptionByOrganization(ctx context.Context, orgID uint) (*models.Subscription, error)
	GetSubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription, columns []string) error
	UpdateSubscription(ctx context.Context, id uint, fields map[string]interface{}) error
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, result WebhookResult) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) OrganizationExists(ctx context.Context, orgID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Organization{}).Where("id = ?", orgID).Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) GetSubscriptionByOrganization(ctx context.Context, orgID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error) {
	if gatewaySubscriptionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("gateway_subscription_id = ?", gatewaySubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription inserts or updates the single row of sub.OrganizationID
// and reloads sub from the stored row.
func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription, columns []string) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(sub).Error; err != nil {
		return err
	}

	// The id reported by an upsert that hit the conflict branch is not
	// reliable on every driver, so read back by the unique key.
	var stored models.Subscription
	if err := db.Where("organization_id = ?", sub.OrganizationID).First(&stored).Error; err != nil {
		return err
	}
	*sub = stored
	return nil
}

func (r *gormRepository) UpdateSubscription(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "gateway_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND gateway_event_id = ?", event.Provider, event.GatewayEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, result WebhookResult) error {
	now := time.Now().UTC()
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          result.Outcome,
		"outcome_reason":   truncate(result.Reason, 255),
		"processing_error": errMsg,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	if result.OrganizationID != nil {
		updates["organization_id"] = *result.OrganizationID
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
