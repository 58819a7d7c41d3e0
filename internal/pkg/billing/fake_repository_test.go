package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
)

// memRepository is an in-memory Repository for service and synchronizer tests.
type memRepository struct {
	mu     sync.Mutex
	nextID uint
	subs   map[uint]*models.Subscription // by organization
	events map[string]*models.BillingWebhookEvent
	failOn string
	// organizations that do not exist; every other id does
	missingOrgs map[uint]bool
}

func newMemRepository() *memRepository {
	return &memRepository{subs: map[uint]*models.Subscription{}, events: map[string]*models.BillingWebhookEvent{}}
}

var errInjected = errors.New("injected failure")

func (r *memRepository) fail(op string) error {
	if r.failOn == op {
		return errInjected
	}
	return nil
}

func (r *memRepository) OrganizationExists(_ context.Context, orgID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.missingOrgs[orgID], nil
}

func (r *memRepository) GetSubscriptionByOrganization(_ context.Context, orgID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("get"); err != nil {
		return nil, err
	}
	s, ok := r.subs[orgID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepository) GetSubscriptionByGatewayID(_ context.Context, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if id != "" && s.GatewaySubscriptionID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepository) UpsertSubscription(_ context.Context, sub *models.Subscription, columns []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("upsert"); err != nil {
		return err
	}
	existing, ok := r.subs[sub.OrganizationID]
	if !ok {
		r.nextID++
		cp := *sub
		cp.ID = r.nextID
		cp.CreatedAt = time.Now().UTC()
		r.subs[sub.OrganizationID] = &cp
		*sub = cp
		return nil
	}
	for _, c := range columns {
		switch c {
		case "plan":
			existing.Plan = sub.Plan
		case "status":
			existing.Status = sub.Status
		case "gateway_customer_id":
			existing.GatewayCustomerID = sub.GatewayCustomerID
		case "gateway_subscription_id":
			existing.GatewaySubscriptionID = sub.GatewaySubscriptionID
		case "gateway_price_id":
			existing.GatewayPriceID = sub.GatewayPriceID
		case "current_period_start":
			existing.CurrentPeriodStart = sub.CurrentPeriodStart
		case "current_period_end":
			existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
		case "cancel_at_period_end":
			existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		case "cancelled_at":
			existing.CancelledAt = sub.CancelledAt
		case "trial_end":
			existing.TrialEnd = sub.TrialEnd
		case "last_event_at":
			existing.LastEventAt = sub.LastEventAt
		}
	}
	*sub = *existing
	return nil
}

func (r *memRepository) UpdateSubscription(_ context.Context, id uint, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID != id {
			continue
		}
		for k, v := range fields {
			switch k {
			case "status":
				s.Status = v.(string)
			case "cancelled_at":
				s.CancelledAt = v.(*time.Time)
			case "cancel_at_period_end":
				s.CancelAtPeriodEnd = v.(bool)
			case "last_event_at":
				t := v.(time.Time)
				s.LastEventAt = &t
			}
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (r *memRepository) CreateWebhookEventIfNotExists(_ context.Context, ev *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ev.Provider + "/" + ev.GatewayEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.nextID++
	cp := *ev
	cp.ID = r.nextID
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *memRepository) MarkWebhookProcessed(_ context.Context, id uint, result WebhookResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now().UTC()
			ev.ProcessedAt = &now
			ev.Outcome = result.Outcome
			ev.Attempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memRepository) get(orgID uint) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[orgID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}
