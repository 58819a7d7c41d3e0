package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// Outcome describes what an event did to the subscription record.
type Outcome struct {
	Result         string
	Reason         string
	OrganizationID uint
}

func applied(orgID uint) Outcome {
	return Outcome{Result: models.WebhookOutcomeApplied, OrganizationID: orgID}
}

func dropped(reason string, orgID uint) Outcome {
	return Outcome{Result: models.WebhookOutcomeDropped, Reason: reason, OrganizationID: orgID}
}

func ignored(reason string, orgID uint) Outcome {
	return Outcome{Result: models.WebhookOutcomeIgnored, Reason: reason, OrganizationID: orgID}
}

// StatementScheduler is told when a billing period has closed.
type StatementScheduler interface {
	ScheduleStatement(ctx context.Context, orgID uint, period Period) error
}

// ChangeListener is notified after an organization's subscription changed.
type ChangeListener interface {
	SubscriptionChanged(ctx context.Context, orgID uint)
}

// Notifier delivers billing notices to the organization.
type Notifier interface {
	PaymentFailed(ctx context.Context, sub models.Subscription) error
}

type handlerFunc func(ctx context.Context, ev Event) (Outcome, error)

// Synchronizer applies verified gateway events to the subscription record.
// Every handler is safe to run more than once for the same event.
type Synchronizer struct {
	repo       Repository
	catalog    *plans.Catalog
	fetcher    SubscriptionFetcher
	statements StatementScheduler
	listener   ChangeListener
	notifier   Notifier
	now        func() time.Time
	handlers   map[EventKind]handlerFunc
}

type SyncOption func(*Synchronizer)

func WithFetcher(f SubscriptionFetcher) SyncOption {
	return func(s *Synchronizer) { s.fetcher = f }
}

func WithStatementScheduler(sc StatementScheduler) SyncOption {
	return func(s *Synchronizer) { s.statements = sc }
}

func WithChangeListener(l ChangeListener) SyncOption {
	return func(s *Synchronizer) { s.listener = l }
}

func WithNotifier(n Notifier) SyncOption {
	return func(s *Synchronizer) { s.notifier = n }
}

func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

func NewSynchronizer(repo Repository, catalog *plans.Catalog, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{repo: repo, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[EventKind]handlerFunc{
		KindCheckoutCompleted:    s.onCheckoutCompleted,
		KindSubscriptionChanged:  s.onSubscriptionChanged,
		KindSubscriptionDeleted:  s.onSubscriptionDeleted,
		KindInvoicePaid:          s.onInvoicePaid,
		KindInvoicePaymentFailed: s.onInvoicePaymentFailed,
	}
	return s
}

// Apply dispatches ev to its handler. A returned error means the event could
// not be applied because of infrastructure trouble and should be redelivered;
// events that are malformed for business reasons come back as dropped.
func (s *Synchronizer) Apply(ctx context.Context, ev Event) (Outcome, error) {
	h, ok := s.handlers[ev.Kind()]
	if !ok {
		log.Infof("[Billing] ignoring event %s of type %s", ev.Meta().ID, ev.Meta().Type)
		return ignored("unhandled event type", 0), nil
	}
	return h(ctx, ev)
}

func (s *Synchronizer) onCheckoutCompleted(ctx context.Context, ev Event) (Outcome, error) {
	e := ev.(CheckoutCompleted)
	subID := e.Session.Subscription.String()
	if subID == "" {
		return ignored("checkout session without subscription", 0), nil
	}
	orgID, hasOrg := e.Session.OrganizationID()
	if s.fetcher == nil {
		log.Errorf("[Billing] checkout %s completed but no subscription fetcher is configured", e.Session.ID)
		return dropped("subscription fetcher not configured", orgID), nil
	}

	payload, err := s.fetcher.FetchSubscription(ctx, subID)
	if err != nil {
		return Outcome{}, err
	}
	if payload.Customer.String() == "" {
		payload.Customer = e.Session.Customer
	}
	if _, ok := payload.OrganizationID(); !ok && hasOrg {
		if payload.Metadata == nil {
			payload.Metadata = map[string]string{}
		}
		payload.Metadata["organization_id"] = fmt.Sprint(orgID)
	}
	return s.syncSubscription(ctx, e.EventMeta, payload)
}

func (s *Synchronizer) onSubscriptionChanged(ctx context.Context, ev Event) (Outcome, error) {
	e := ev.(SubscriptionChanged)
	return s.syncSubscription(ctx, e.EventMeta, e.Subscription)
}

func (s *Synchronizer) syncSubscription(ctx context.Context, meta EventMeta, p SubscriptionPayload) (Outcome, error) {
	orgID, ok := p.OrganizationID()
	if !ok {
		log.Warnf("[Billing] event %s: subscription %s has no organization_id metadata, dropping", meta.ID, p.ID)
		return dropped("missing organization_id metadata", 0), nil
	}
	priceID := p.PriceID()
	planID, ok := s.catalog.PlanForPrice(priceID)
	if !ok {
		log.Errorf("[Billing] event %s: price %q on subscription %s is not mapped to a plan, dropping", meta.ID, priceID, p.ID)
		return dropped("unknown price id", orgID), nil
	}
	if out, ok, err := s.requireOrganization(ctx, meta, orgID); !ok {
		return out, err
	}

	existing, err := s.repo.GetSubscriptionByOrganization(ctx, orgID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{}, err
	}
	if existing != nil && existing.LastEventAt != nil && meta.Created.Before(*existing.LastEventAt) {
		log.Infof("[Billing] event %s for organization %d is older than the last applied event, skipping", meta.ID, orgID)
		return ignored("stale event", orgID), nil
	}

	status := MapGatewayStatus(p.Status)
	start, end := p.Period()
	created := meta.Created
	sub := &models.Subscription{
		OrganizationID:        orgID,
		Plan:                  planID,
		Status:                status,
		GatewayCustomerID:     p.Customer.String(),
		GatewaySubscriptionID: p.ID,
		GatewayPriceID:        priceID,
		CurrentPeriodStart:    start,
		CurrentPeriodEnd:      end,
		CancelAtPeriodEnd:     p.CancelAtPeriodEnd,
		LastEventAt:           &created,
	}
	if p.TrialEnd > 0 {
		sub.TrialEnd = unixPtr(p.TrialEnd)
	}
	if status == models.SubscriptionStatusCancelled {
		sub.CancelledAt = s.cancelledAt(existing, p.CanceledAt)
	}
	if err := sub.Validate(); err != nil {
		log.Errorf("[Billing] event %s produced an invalid subscription for organization %d: %v", meta.ID, orgID, err)
		return dropped("invalid subscription state", orgID), nil
	}
	if err := s.repo.UpsertSubscription(ctx, sub, syncColumns); err != nil {
		return Outcome{}, err
	}

	if existing != nil && existing.HasPeriod() && sub.HasPeriod() && sub.CurrentPeriodStart.After(*existing.CurrentPeriodStart) {
		s.scheduleStatement(ctx, orgID, Period{Start: existing.CurrentPeriodStart.UTC(), End: existing.CurrentPeriodEnd.UTC()})
	}
	s.changed(ctx, orgID)
	log.Infof("[Billing] organization %d synced: plan=%s status=%s (event %s)", orgID, sub.Plan, sub.Status, meta.ID)
	return applied(orgID), nil
}

func (s *Synchronizer) onSubscriptionDeleted(ctx context.Context, ev Event) (Outcome, error) {
	e := ev.(SubscriptionDeleted)
	p := e.Subscription
	orgID, hasOrg := p.OrganizationID()

	var existing *models.Subscription
	var err error
	if hasOrg {
		existing, err = s.repo.GetSubscriptionByOrganization(ctx, orgID)
	} else {
		existing, err = s.repo.GetSubscriptionByGatewayID(ctx, p.ID)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{}, err
	}

	if existing == nil {
		if !hasOrg {
			log.Warnf("[Billing] event %s: deleted subscription %s cannot be attributed to an organization, dropping", e.ID, p.ID)
			return dropped("missing organization_id metadata", 0), nil
		}
		if out, ok, err := s.requireOrganization(ctx, e.EventMeta, orgID); !ok {
			return out, err
		}
		planID, ok := s.catalog.PlanForPrice(p.PriceID())
		if !ok {
			planID = s.catalog.Entry().ID
		}
		created := e.Created
		sub := &models.Subscription{
			OrganizationID:        orgID,
			Plan:                  planID,
			Status:                models.SubscriptionStatusCancelled,
			GatewayCustomerID:     p.Customer.String(),
			GatewaySubscriptionID: p.ID,
			GatewayPriceID:        p.PriceID(),
			CancelledAt:           s.cancelledAt(nil, 0),
			LastEventAt:           &created,
		}
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd = p.Period()
		if err := s.repo.UpsertSubscription(ctx, sub, syncColumns); err != nil {
			return Outcome{}, err
		}
		s.changed(ctx, orgID)
		return applied(orgID), nil
	}

	if existing.GatewaySubscriptionID != "" && p.ID != "" && existing.GatewaySubscriptionID != p.ID {
		log.Infof("[Billing] event %s: deleted subscription %s is not the current one (%s) of organization %d, ignoring",
			e.ID, p.ID, existing.GatewaySubscriptionID, existing.OrganizationID)
		return ignored("deleted subscription is not the current one", existing.OrganizationID), nil
	}

	fields := map[string]interface{}{
		"status":               models.SubscriptionStatusCancelled,
		"cancelled_at":         s.cancelledAt(existing, 0),
		"cancel_at_period_end": false,
	}
	if existing.LastEventAt == nil || e.Created.After(*existing.LastEventAt) {
		fields["last_event_at"] = e.Created
	}
	if err := s.repo.UpdateSubscription(ctx, existing.ID, fields); err != nil {
		return Outcome{}, err
	}
	s.changed(ctx, existing.OrganizationID)
	log.Infof("[Billing] organization %d subscription cancelled (event %s)", existing.OrganizationID, e.ID)
	return applied(existing.OrganizationID), nil
}

func (s *Synchronizer) onInvoicePaid(ctx context.Context, ev Event) (Outcome, error) {
	// status transitions arrive through subscription updates
	return ignored("invoice paid", 0), nil
}

func (s *Synchronizer) onInvoicePaymentFailed(ctx context.Context, ev Event) (Outcome, error) {
	e := ev.(InvoicePaymentFailed)
	subID := e.Invoice.SubscriptionID()
	if subID == "" {
		return ignored("invoice without subscription", 0), nil
	}

	existing, err := s.repo.GetSubscriptionByGatewayID(ctx, subID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if orgID, ok := e.Invoice.OrganizationID(); ok {
			existing, err = s.repo.GetSubscriptionByOrganization(ctx, orgID)
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && existing == nil) {
		log.Warnf("[Billing] event %s: payment failed for unknown subscription %s", e.ID, subID)
		return ignored("unknown subscription", 0), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if existing.Status == models.SubscriptionStatusCancelled {
		return ignored("subscription already cancelled", existing.OrganizationID), nil
	}

	fields := map[string]interface{}{}
	if existing.Status != models.SubscriptionStatusPastDue {
		fields["status"] = models.SubscriptionStatusPastDue
	}
	// updates created before the failure must not revive the subscription
	if !e.Created.IsZero() && (existing.LastEventAt == nil || e.Created.After(*existing.LastEventAt)) {
		fields["last_event_at"] = e.Created
	}
	if len(fields) > 0 {
		if err := s.repo.UpdateSubscription(ctx, existing.ID, fields); err != nil {
			return Outcome{}, err
		}
	}
	if _, ok := fields["status"]; ok {
		existing.Status = models.SubscriptionStatusPastDue
		s.changed(ctx, existing.OrganizationID)
	}

	if s.notifier != nil {
		if err := s.notifier.PaymentFailed(ctx, *existing); err != nil {
			log.Warnf("[Billing] payment failure notice for organization %d failed: %v", existing.OrganizationID, err)
		}
	}
	log.Infof("[Billing] organization %d marked past_due (event %s)", existing.OrganizationID, e.ID)
	return applied(existing.OrganizationID), nil
}

// requireOrganization drops events naming an organization that does not
// exist. Redelivery cannot fix them.
func (s *Synchronizer) requireOrganization(ctx context.Context, meta EventMeta, orgID uint) (Outcome, bool, error) {
	exists, err := s.repo.OrganizationExists(ctx, orgID)
	if err != nil {
		return Outcome{}, false, err
	}
	if !exists {
		log.Warnf("[Billing] event %s names unknown organization %d, dropping", meta.ID, orgID)
		return dropped("unknown organization", orgID), false, nil
	}
	return Outcome{}, true, nil
}

// cancelledAt keeps the first cancellation time so replays do not move it.
func (s *Synchronizer) cancelledAt(existing *models.Subscription, gatewayCanceledAt int64) *time.Time {
	if existing != nil && existing.Status == models.SubscriptionStatusCancelled && existing.CancelledAt != nil {
		t := existing.CancelledAt.UTC()
		return &t
	}
	if gatewayCanceledAt > 0 {
		return unixPtr(gatewayCanceledAt)
	}
	now := s.now().UTC()
	return &now
}

func (s *Synchronizer) scheduleStatement(ctx context.Context, orgID uint, period Period) {
	if s.statements == nil {
		return
	}
	if err := s.statements.ScheduleStatement(ctx, orgID, period); err != nil {
		log.Warnf("[Billing] could not schedule statement for organization %d: %v", orgID, err)
	}
}

func (s *Synchronizer) changed(ctx context.Context, orgID uint) {
	if s.listener != nil {
		s.listener.SubscriptionChanged(ctx, orgID)
	}
}
