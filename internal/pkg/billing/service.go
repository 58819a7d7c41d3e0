package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// Service is the subscription record accessor. It is the only place that
// decides what an organization without a subscription row is entitled to.
type Service struct {
	repo    Repository
	catalog *plans.Catalog
	now     func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, catalog *plans.Catalog) *Service {
	return &Service{repo: repo, catalog: catalog, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, catalog *plans.Catalog) *Service {
	return NewService(NewRepository(db), catalog)
}

// WithClock returns a copy of the service reading time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Service) Catalog() *plans.Catalog { return s.catalog }

// GetSubscriptionOrDefault returns the organization's subscription, or a
// virtual trialing subscription on the entry tier when none is stored.
func (s *Service) GetSubscriptionOrDefault(ctx context.Context, orgID uint) (Resolved, error) {
	sub, err := s.repo.GetSubscriptionByOrganization(ctx, orgID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.virtualDefault(orgID), nil
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("load subscription for organization %d: %w", orgID, err)
	}
	return s.resolve(*sub)
}

func (s *Service) virtualDefault(orgID uint) Resolved {
	entry := s.catalog.Entry()
	return Resolved{
		Subscription: models.Subscription{
			OrganizationID: orgID,
			Plan:           entry.ID,
			Status:         models.SubscriptionStatusTrialing,
		},
		Virtual: true,
		Plan:    entry,
		Period:  VirtualPeriod(s.now()),
	}
}

func (s *Service) resolve(sub models.Subscription) (Resolved, error) {
	plan, ok := s.catalog.Lookup(sub.Plan)
	if !ok {
		log.Errorf("[Billing] organization %d references plan %q which is not in the catalog", sub.OrganizationID, sub.Plan)
		return Resolved{}, fmt.Errorf("%w: %q (organization %d)", plans.ErrUnknownPlan, sub.Plan, sub.OrganizationID)
	}
	if !sub.IsEntitling() {
		plan = s.catalog.Entry()
	}
	period := VirtualPeriod(s.now())
	if sub.HasPeriod() {
		period = Period{Start: sub.CurrentPeriodStart.UTC(), End: sub.CurrentPeriodEnd.UTC()}
	}
	return Resolved{Subscription: sub, Plan: plan, Period: period}, nil
}

// SetSubscription is the explicit admin write path. Gateway references on an
// existing row are preserved.
func (s *Service) SetSubscription(ctx context.Context, in SubscriptionInput) (*models.Subscription, error) {
	if in.OrganizationID == 0 {
		return nil, errors.New("organization_id is required")
	}
	planID, err := s.catalog.ParsePlanID(in.Plan)
	if err != nil {
		return nil, err
	}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = models.SubscriptionStatusActive
	}

	sub := &models.Subscription{
		OrganizationID:     in.OrganizationID,
		Plan:               planID,
		Status:             status,
		CurrentPeriodStart: utcPtr(in.PeriodStart),
		CurrentPeriodEnd:   utcPtr(in.PeriodEnd),
		CancelAtPeriodEnd:  in.CancelAtPeriodEnd,
		TrialEnd:           utcPtr(in.TrialEnd),
	}
	if status == models.SubscriptionStatusCancelled {
		now := s.now().UTC()
		sub.CancelledAt = &now
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertSubscription(ctx, sub, adminColumns); err != nil {
		return nil, err
	}
	log.Infof("[Billing] admin set organization %d to plan=%s status=%s", sub.OrganizationID, sub.Plan, sub.Status)
	return sub, nil
}

// RecordWebhookEvent persists a verified event idempotently. created is false
// when the event id was seen before; stored is the row either way.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.GatewayEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:       provider,
		GatewayEventID: eventID,
		EventType:      strings.TrimSpace(in.EventType),
		PayloadJSON:    in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed stores the outcome of one delivery attempt.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, result WebhookResult) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, result)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
